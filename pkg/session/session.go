// Package session implements the mouse-driven editing state machine that
// draws, selects and resizes boxes and places keypoints.
package session

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/menta2k/keypoint-labeler/pkg/annotation"
	"github.com/menta2k/keypoint-labeler/pkg/geometry"
	"github.com/menta2k/keypoint-labeler/pkg/hittest"
	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// Mode selects what a plain click does
type Mode int

const (
	ModeBox Mode = iota
	ModeKeypoint
)

func (m Mode) String() string {
	switch m {
	case ModeBox:
		return "box"
	case ModeKeypoint:
		return "keypoint"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts "box" or "keypoint" into a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "box":
		return ModeBox, nil
	case "keypoint":
		return ModeKeypoint, nil
	}
	return ModeBox, types.InvalidInputf("unknown mode %q", s)
}

// State is the gesture currently in progress
type State int

const (
	Idle State = iota
	DrawingBox
	DraggingHandle
	AwaitingKeypointPlacement
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DrawingBox:
		return "drawing_box"
	case DraggingHandle:
		return "dragging_handle"
	case AwaitingKeypointPlacement:
		return "awaiting_keypoint_placement"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Result reports the outcome of one input event. Changed is set when the
// annotations, the selection or the live rectangle changed and the view
// should be redrawn.
type Result struct {
	Changed bool
	Status  string
	Err     error
}

type point struct{ x, y float64 }

// Session is the editing state of one image. It never touches the store
// outside of the methods below, and it never panics on stale indexes.
type Session struct {
	store  *annotation.Store
	logger *zap.SugaredLogger

	mode      Mode
	state     State
	selected  int
	handle    types.Handle
	dragStart point

	// live rectangle in canvas coordinates
	anchor point
	cursor point

	classID   int
	threshold float64

	transform geometry.Transform
	imgWidth  int
	imgHeight int
}

// New creates an idle session in box mode editing store
func New(store *annotation.Store, logger *zap.SugaredLogger) *Session {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Session{
		store:     store,
		logger:    logger,
		selected:  -1,
		threshold: hittest.DefaultPixelThreshold,
	}
}

// SetView sets the display transform and the size of the current image.
// Mouse events are ignored until a view with a non-empty image is set.
func (s *Session) SetView(t geometry.Transform, imgWidth, imgHeight int) {
	s.transform = t
	s.imgWidth = imgWidth
	s.imgHeight = imgHeight
}

// Transform returns the display transform in use
func (s *Session) Transform() geometry.Transform {
	return s.transform
}

func (s *Session) ready() bool {
	return s.imgWidth > 0 && s.imgHeight > 0 && s.transform.Scale > 0
}

// Mode returns the current editing mode
func (s *Session) Mode() Mode {
	return s.mode
}

// SetMode switches modes, abandons any gesture and clears the selection
func (s *Session) SetMode(m Mode) Result {
	if m != ModeBox && m != ModeKeypoint {
		return Result{Err: types.InvalidInputf("unknown mode %d", int(m))}
	}
	s.mode = m
	s.state = Idle
	s.handle = types.HandleNone
	s.selected = -1

	if m == ModeKeypoint {
		return Result{Changed: true, Status: "Keypoint mode: drag to draw a box, click a box to select it, click inside the selected box to add keypoints, click a keypoint to toggle visibility"}
	}
	return Result{Changed: true, Status: "Box mode: drag to draw boxes, click a box to select and resize it"}
}

// State returns the gesture in progress
func (s *Session) State() State {
	return s.state
}

// ClassID is the class given to new boxes and keypoints
func (s *Session) ClassID() int {
	return s.classID
}

// SetClassID sets the class for new boxes and keypoints
func (s *Session) SetClassID(id int) error {
	if id < 0 {
		return types.InvalidInputf("class id %d is negative", id)
	}
	s.classID = id
	return nil
}

// SetThreshold sets the on-screen hit radius for handles and keypoints
func (s *Session) SetThreshold(px float64) error {
	if px <= 0 {
		return types.InvalidInputf("threshold %v must be positive", px)
	}
	s.threshold = px
	return nil
}

// Selected returns the selected box index. A selection that no longer
// refers to a box in the store is reported as none.
func (s *Session) Selected() (int, bool) {
	if s.selected < 0 || s.selected >= s.store.Len() {
		return -1, false
	}
	return s.selected, true
}

// Select marks box i as selected
func (s *Session) Select(i int) error {
	if i < 0 || i >= s.store.Len() {
		return fmt.Errorf("select box %d: %w", i, types.ErrIndexOutOfRange)
	}
	s.selected = i
	return nil
}

// ClearSelection drops the selection
func (s *Session) ClearSelection() {
	s.selected = -1
}

// LiveRect returns the normalized image-space rectangle being drawn
func (s *Session) LiveRect() (annotation.Box, bool) {
	if s.state != DrawingBox {
		return annotation.Box{}, false
	}
	x1, y1 := geometry.ToImageSpace(s.anchor.x, s.anchor.y, s.transform)
	x2, y2 := geometry.ToImageSpace(s.cursor.x, s.cursor.y, s.transform)
	return annotation.Box{
		ClassID: s.classID,
		X1:      min(x1, x2), Y1: min(y1, y2),
		X2: max(x1, x2), Y2: max(y1, y2),
	}, true
}

// Reset returns to Idle and forgets the selection and any live rectangle.
// It is called whenever another image is loaded.
func (s *Session) Reset() {
	s.state = Idle
	s.handle = types.HandleNone
	s.selected = -1
	s.anchor = point{}
	s.cursor = point{}
}

// HoverCursor names the pointer shape for a canvas position in box mode
func (s *Session) HoverCursor(canvasX, canvasY float64) string {
	sel, ok := s.Selected()
	if !ok || !s.ready() || s.mode != ModeBox || s.state != Idle {
		return hittest.Cursor(types.HandleNone)
	}
	x, y := geometry.ToImageSpace(canvasX, canvasY, s.transform)
	h, _ := hittest.FindHandleAt(x, y, sel, s.store, s.threshold, s.transform.Scale)
	return hittest.Cursor(h)
}

// MouseDown starts a gesture at a canvas position. Presses outside the image
// are ignored.
func (s *Session) MouseDown(canvasX, canvasY float64) Result {
	if !s.ready() {
		return Result{}
	}
	x, y := geometry.ToImageSpace(canvasX, canvasY, s.transform)
	if !geometry.InImage(x, y, s.imgWidth, s.imgHeight) {
		return Result{}
	}
	if s.state != Idle {
		// the matching release was lost; drop the old gesture
		s.logger.Debugw("abandoning gesture", "state", s.state)
		s.state = Idle
		s.handle = types.HandleNone
	}

	if s.mode == ModeKeypoint {
		return s.keypointDown(canvasX, canvasY, x, y)
	}
	return s.boxDown(canvasX, canvasY, x, y)
}

func (s *Session) boxDown(cx, cy, x, y float64) Result {
	if sel, ok := s.Selected(); ok {
		if h, hit := hittest.FindHandleAt(x, y, sel, s.store, s.threshold, s.transform.Scale); hit {
			s.state = DraggingHandle
			s.handle = h
			s.dragStart = point{x, y}
			s.logger.Debugw("dragging handle", "box", sel, "handle", h)
			return Result{}
		}
	}

	if i, ok := hittest.FindBoxAt(x, y, s.store); ok {
		s.selected = i
		b, _ := s.store.Box(i)
		return Result{Changed: true, Status: fmt.Sprintf("Selected box %d (class %d)", i, b.ClassID)}
	}

	s.startDrawing(cx, cy)
	return Result{Changed: true}
}

func (s *Session) keypointDown(cx, cy, x, y float64) Result {
	i, ok := hittest.FindBoxAt(x, y, s.store)
	if !ok {
		s.startDrawing(cx, cy)
		return Result{Changed: true, Status: "Drawing new box..."}
	}

	if k, hit := hittest.FindKeypointAt(x, y, i, s.store, s.threshold, s.transform.Scale); hit {
		if _, err := s.store.ToggleKeypointVisibility(i, k); err != nil {
			return Result{Err: err}
		}
		s.selected = i
		b, _ := s.store.Box(i)
		return Result{Changed: true, Status: fmt.Sprintf("Toggled keypoint %d visibility", b.Keypoints[k].ClassID)}
	}

	if sel, selOK := s.Selected(); !selOK || sel != i {
		s.selected = i
		b, _ := s.store.Box(i)
		return Result{Changed: true, Status: fmt.Sprintf("Selected box %d (class %d). Click inside to add keypoints.", i, b.ClassID)}
	}

	s.state = AwaitingKeypointPlacement
	if _, err := s.store.AddKeypoint(i, s.classID, x, y); err != nil {
		s.state = Idle
		return Result{Err: err}
	}
	return Result{Changed: true, Status: fmt.Sprintf("Added keypoint class %d at (%d, %d)", s.classID, int(x), int(y))}
}

func (s *Session) startDrawing(cx, cy float64) {
	s.selected = -1
	s.state = DrawingBox
	s.anchor = point{cx, cy}
	s.cursor = point{cx, cy}
}

// MouseDrag continues the gesture in progress
func (s *Session) MouseDrag(canvasX, canvasY float64) Result {
	if !s.ready() {
		return Result{}
	}

	switch s.state {
	case DrawingBox:
		s.cursor = point{canvasX, canvasY}
		return Result{Changed: true}

	case DraggingHandle:
		x, y := geometry.ToImageSpace(canvasX, canvasY, s.transform)
		err := s.store.UpdateBoxEdge(s.selected, s.handle, x, y)
		if errors.Is(err, types.ErrSubThreshold) {
			// collapsed onto the opposite edge; keep the last valid shape
			return Result{}
		}
		if err != nil {
			s.state = Idle
			s.handle = types.HandleNone
			return Result{Err: err}
		}
		return Result{Changed: true}
	}
	return Result{}
}

// MouseUp finishes the gesture in progress
func (s *Session) MouseUp(canvasX, canvasY float64) Result {
	if !s.ready() {
		return Result{}
	}

	switch s.state {
	case DraggingHandle, AwaitingKeypointPlacement:
		s.state = Idle
		s.handle = types.HandleNone
		return Result{}

	case DrawingBox:
		s.cursor = point{canvasX, canvasY}
		return s.commitBox()
	}
	return Result{}
}

func (s *Session) commitBox() Result {
	s.state = Idle
	x1, y1 := geometry.ToImageSpace(s.anchor.x, s.anchor.y, s.transform)
	x2, y2 := geometry.ToImageSpace(s.cursor.x, s.cursor.y, s.transform)

	i, err := s.store.AddBox(s.classID, x1, y1, x2, y2)
	if errors.Is(err, types.ErrSubThreshold) {
		return Result{Changed: true}
	}
	if err != nil {
		return Result{Changed: true, Err: err}
	}
	s.logger.Debugw("added box", "index", i, "class", s.classID)

	if s.mode == ModeKeypoint {
		s.selected = i
		return Result{Changed: true, Status: fmt.Sprintf("Added box: class %d. Click inside to add keypoints.", s.classID)}
	}
	return Result{Changed: true, Status: fmt.Sprintf("Added box: class %d", s.classID)}
}
