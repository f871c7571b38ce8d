package annotation

import (
	"fmt"

	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// Store owns the boxes of the currently loaded image in creation order, which
// is also the z-order used for hit testing (last added on top).
//
// A Store is not safe for concurrent use; callers serialize mutations.
type Store struct {
	boxes   []Box
	version uint64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Len returns the number of boxes
func (s *Store) Len() int {
	return len(s.boxes)
}

// Version is incremented on every structural mutation (add, delete, clear,
// append). An index captured under an older version may be stale.
func (s *Store) Version() uint64 {
	return s.version
}

// Box returns a copy of the box at index i
func (s *Store) Box(i int) (Box, error) {
	if err := s.checkBox(i); err != nil {
		return Box{}, err
	}
	return s.boxes[i].Clone(), nil
}

// Boxes returns a deep copy of all boxes
func (s *Store) Boxes() []Box {
	out := make([]Box, len(s.boxes))
	for i, b := range s.boxes {
		out[i] = b.Clone()
	}
	return out
}

// AddBox appends a box spanning the two corners and returns its index. Boxes
// with a side of MinBoxSize or less are rejected with ErrSubThreshold and the
// store is left unchanged.
func (s *Store) AddBox(classID int, x1, y1, x2, y2 float64) (int, error) {
	b, err := NewBox(classID, x1, y1, x2, y2)
	if err != nil {
		return -1, err
	}
	s.boxes = append(s.boxes, b)
	s.version++
	return len(s.boxes) - 1, nil
}

// Append adds already-built boxes, e.g. imported detections, all at once. Every
// box is validated first; if one is invalid nothing is appended.
func (s *Store) Append(boxes ...Box) error {
	if err := validateAll(boxes); err != nil {
		return err
	}
	for _, b := range boxes {
		c := b.Clone()
		c.normalize()
		s.boxes = append(s.boxes, c)
	}
	if len(boxes) > 0 {
		s.version++
	}
	return nil
}

// Replace swaps the whole content for boxes, e.g. a reloaded label file. On
// error the store is left unchanged.
func (s *Store) Replace(boxes ...Box) error {
	if err := validateAll(boxes); err != nil {
		return err
	}
	s.boxes = make([]Box, 0, len(boxes))
	for _, b := range boxes {
		c := b.Clone()
		c.normalize()
		s.boxes = append(s.boxes, c)
	}
	s.version++
	return nil
}

func validateAll(boxes []Box) error {
	for i, b := range boxes {
		if b.ClassID < 0 {
			return types.InvalidInputf("box %d: class id %d is negative", i, b.ClassID)
		}
		if !finite(b.X1, b.Y1, b.X2, b.Y2) {
			return types.InvalidInputf("box %d: corners are not finite", i)
		}
		if b.degenerate() {
			return types.InvalidInputf("box %d: zero width or height", i)
		}
		for _, kp := range b.Keypoints {
			if kp.ClassID < 0 {
				return types.InvalidInputf("box %d: keypoint class id %d is negative", i, kp.ClassID)
			}
			if !finite(kp.X, kp.Y) {
				return types.InvalidInputf("box %d: keypoint (%v,%v) is not finite", i, kp.X, kp.Y)
			}
		}
	}
	return nil
}

// UpdateBoxEdge moves the coordinates controlled by handle to (x, y). A move
// that would collapse the box onto its opposite edge is rejected with
// ErrSubThreshold and the box keeps its previous coordinates.
func (s *Store) UpdateBoxEdge(i int, handle types.Handle, x, y float64) error {
	if err := s.checkBox(i); err != nil {
		return err
	}
	if !handle.Valid() {
		return types.InvalidInputf("unknown handle %q", handle)
	}
	if !finite(x, y) {
		return types.InvalidInputf("handle position (%v,%v) is not finite", x, y)
	}
	moved := s.boxes[i]
	moved.moveHandle(handle, x, y)
	if moved.degenerate() {
		return types.ErrSubThreshold
	}
	s.boxes[i] = moved
	return nil
}

// DeleteBox removes box i. Every previously captured index is invalid afterwards.
func (s *Store) DeleteBox(i int) error {
	if err := s.checkBox(i); err != nil {
		return err
	}
	s.boxes = append(s.boxes[:i], s.boxes[i+1:]...)
	s.version++
	return nil
}

// Clear removes all boxes
func (s *Store) Clear() {
	s.boxes = nil
	s.version++
}

// AddKeypoint appends a visible keypoint to box i and returns its index
func (s *Store) AddKeypoint(i, classID int, x, y float64) (int, error) {
	if err := s.checkBox(i); err != nil {
		return -1, err
	}
	if classID < 0 {
		return -1, types.InvalidInputf("keypoint class id %d is negative", classID)
	}
	if !finite(x, y) {
		return -1, types.InvalidInputf("keypoint (%v,%v) is not finite", x, y)
	}
	b := &s.boxes[i]
	b.Keypoints = append(b.Keypoints, Keypoint{ClassID: classID, X: x, Y: y, Visible: true})
	return len(b.Keypoints) - 1, nil
}

// ToggleKeypointVisibility flips the visibility of keypoint k of box i
func (s *Store) ToggleKeypointVisibility(i, k int) (bool, error) {
	if err := s.checkKeypoint(i, k); err != nil {
		return false, err
	}
	kp := &s.boxes[i].Keypoints[k]
	kp.Visible = !kp.Visible
	return kp.Visible, nil
}

// ClearKeypoints removes every keypoint of box i
func (s *Store) ClearKeypoints(i int) error {
	if err := s.checkBox(i); err != nil {
		return err
	}
	s.boxes[i].Keypoints = nil
	return nil
}

func (s *Store) checkBox(i int) error {
	if i < 0 || i >= len(s.boxes) {
		return fmt.Errorf("box %d of %d: %w", i, len(s.boxes), types.ErrIndexOutOfRange)
	}
	return nil
}

func (s *Store) checkKeypoint(i, k int) error {
	if err := s.checkBox(i); err != nil {
		return err
	}
	if n := len(s.boxes[i].Keypoints); k < 0 || k >= n {
		return fmt.Errorf("keypoint %d of %d in box %d: %w", k, n, i, types.ErrIndexOutOfRange)
	}
	return nil
}
