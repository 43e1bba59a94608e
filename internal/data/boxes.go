package data

// Box is an axis aligned detection in pixel coordinates of some level.
type Box struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
	Score  float32 `json:"score"`
	Class  int     `json:"class"`
}

// Area returns the box area.
func (b Box) Area() float32 {
	return b.Width * b.Height
}

// IoU returns the intersection over union of two boxes.
func (b Box) IoU(o Box) float32 {
	x0 := max(b.X, o.X)
	y0 := max(b.Y, o.Y)
	x1 := min(b.X+b.Width, o.X+o.Width)
	y1 := min(b.Y+b.Height, o.Y+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := (x1 - x0) * (y1 - y0)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// BoxSet is a list of detections.
type BoxSet struct {
	Boxes []Box
}

func (*BoxSet) Kind() Kind { return KindBoxSet }

// Add appends boxes.
func (s *BoxSet) Add(boxes ...Box) {
	s.Boxes = append(s.Boxes, boxes...)
}
