package results

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ekisa-team/pathflow/internal/data"
)

// Payload file extensions, one fixed container per payload kind.
const (
	ExtPyramid = ".tiff"
	ExtImage   = ".mhd"
	ExtTensor  = ".tensor"
)

// pyramidMinSide bounds the levels rebuilt when a pyramid payload is loaded.
const pyramidMinSide = 64

func extension(kind data.Kind) (string, bool) {
	switch kind {
	case data.KindPyramid:
		return ExtPyramid, true
	case data.KindImage:
		return ExtImage, true
	case data.KindTensor:
		return ExtTensor, true
	}
	return "", false
}

func writePayload(path string, obj data.Object) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	switch o := obj.(type) {
	case *data.Pyramid:
		err = encodePyramid(f, o)
	case *data.Image:
		err = encodeMetaImage(f, o)
	case *data.Tensor:
		err = encodeTensor(f, o)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedPayload, obj.Kind())
	}

	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func readPayload(path string) (data.Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch {
	case strings.HasSuffix(path, ExtPyramid):
		return decodePyramid(f)
	case strings.HasSuffix(path, ExtImage):
		return decodeMetaImage(f)
	case strings.HasSuffix(path, ExtTensor):
		return decodeTensor(f)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedPayload, path)
}

// encodePyramid stores level 0 as a deflate compressed TIFF. Coarser levels are rebuilt on load.
func encodePyramid(w io.Writer, p *data.Pyramid) error {
	if len(p.Levels) == 0 {
		return fmt.Errorf("%w: empty pyramid", ErrCodec)
	}
	return tiff.Encode(w, p.Levels[0].ToImage(), &tiff.Options{Compression: tiff.Deflate})
}

func decodePyramid(r io.Reader) (*data.Pyramid, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}

	channels := 3
	if _, ok := img.(*image.Gray); ok {
		channels = 1
	}
	return data.BuildPyramid(data.FromImage(img, channels), pyramidMinSide), nil
}

// encodeMetaImage writes a single-file MetaImage (header followed by raw 8-bit pixels).
func encodeMetaImage(w io.Writer, im *data.Image) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ObjectType = Image\n"+
		"NDims = 2\n"+
		"BinaryData = True\n"+
		"BinaryDataByteOrderMSB = False\n"+
		"DimSize = %d %d\n"+
		"ElementSpacing = %s %s\n"+
		"ElementNumberOfChannels = %d\n"+
		"ElementType = MET_UCHAR\n"+
		"ElementDataFile = LOCAL\n",
		im.Width, im.Height,
		formatFloat(im.Spacing[0]), formatFloat(im.Spacing[1]),
		im.Channels,
	)
	if _, err := bw.Write(im.Pix); err != nil {
		return err
	}
	return bw.Flush()
}

func decodeMetaImage(r io.Reader) (*data.Image, error) {
	br := bufio.NewReader(r)

	header := make(map[string]string)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("%w: metaimage header: %v", ErrCodec, err)
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: metaimage header line %q", ErrCodec, strings.TrimSpace(line))
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		header[key] = value
		if key == "ElementDataFile" {
			break
		}
	}

	if header["ElementDataFile"] != "LOCAL" {
		return nil, fmt.Errorf("%w: only LOCAL element data is supported", ErrCodec)
	}
	if t := header["ElementType"]; t != "MET_UCHAR" {
		return nil, fmt.Errorf("%w: element type %q", ErrCodec, t)
	}

	dims, err := parseInts(header["DimSize"], 2)
	if err != nil {
		return nil, fmt.Errorf("%w: DimSize: %v", ErrCodec, err)
	}
	channels := 1
	if c, ok := header["ElementNumberOfChannels"]; ok {
		if channels, err = strconv.Atoi(c); err != nil || channels < 1 {
			return nil, fmt.Errorf("%w: ElementNumberOfChannels %q", ErrCodec, c)
		}
	}

	im := data.NewImage(dims[0], dims[1], channels)
	if s, ok := header["ElementSpacing"]; ok {
		sp, err := parseFloats(s, 2)
		if err != nil {
			return nil, fmt.Errorf("%w: ElementSpacing: %v", ErrCodec, err)
		}
		im.Spacing = data.Spacing{sp[0], sp[1]}
	}

	if _, err := io.ReadFull(br, im.Pix); err != nil {
		return nil, fmt.Errorf("%w: metaimage pixels: %v", ErrCodec, err)
	}
	return im, nil
}

// encodeTensor stores shape, spacing and values in a protobuf Struct.
func encodeTensor(w io.Writer, t *data.Tensor) error {
	shape := make([]any, len(t.Shape))
	for i, d := range t.Shape {
		shape[i] = float64(d)
	}
	values := make([]any, len(t.Data))
	for i, v := range t.Data {
		values[i] = float64(v)
	}

	s, err := structpb.NewStruct(map[string]any{
		"shape":   shape,
		"spacing": []any{t.Spacing[0], t.Spacing[1]},
		"values":  values,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodec, err)
	}

	b, err := proto.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodec, err)
	}
	_, err = w.Write(b)
	return err
}

func decodeTensor(r io.Reader) (*data.Tensor, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}

	fields := s.GetFields()
	shapeVals := fields["shape"].GetListValue().GetValues()
	shape := make([]int, len(shapeVals))
	for i, v := range shapeVals {
		shape[i] = int(v.GetNumberValue())
	}

	vals := fields["values"].GetListValue().GetValues()
	values := make([]float32, len(vals))
	for i, v := range vals {
		values[i] = float32(v.GetNumberValue())
	}

	t, err := data.TensorFrom(values, shape...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}

	if sp := fields["spacing"].GetListValue().GetValues(); len(sp) == 2 {
		t.Spacing = data.Spacing{sp[0].GetNumberValue(), sp[1].GetNumberValue()}
	}
	return t, nil
}

func parseInts(s string, n int) ([]int, error) {
	fields := strings.Fields(s)
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d values, got %q", n, s)
	}
	out := make([]int, n)
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid value %q", f)
		}
		out[i] = v
	}
	return out, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	fields := strings.Fields(s)
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d values, got %q", n, s)
	}
	out := make([]float64, n)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", f)
		}
		out[i] = v
	}
	return out, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
