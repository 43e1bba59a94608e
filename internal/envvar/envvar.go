package envvar

const (
	// PathflowEnv is the environment variable used to determine the environment
	PathflowEnv = "PATHFLOW_ENV"

	// PathflowModelsPath overrides the models root directory
	PathflowModelsPath = "PATHFLOW_MODELS_PATH"

	// PathflowLibraryPath overrides the directory scanned for inference engine libraries
	PathflowLibraryPath = "PATHFLOW_LIBRARY_PATH"

	// PathflowProjectPath overrides the project root directory
	PathflowProjectPath = "PATHFLOW_PROJECT_PATH"

	// PathflowOnnxRuntimeLib points at the onnxruntime shared library
	PathflowOnnxRuntimeLib = "PATHFLOW_ONNXRUNTIME_LIB"

	// PathflowServerHTTPPort is the environment variable used to determine the HTTP port
	PathflowServerHTTPPort = "PATHFLOW_SERVER_HTTP_PORT"

	// PathflowServerGRPCPort is the environment variable used to determine the gRPC port
	PathflowServerGRPCPort = "PATHFLOW_SERVER_GRPC_PORT"

	// PathflowLogLevel overrides the log level (debug, info, warn, error)
	PathflowLogLevel = "PATHFLOW_LOG_LEVEL"
)
