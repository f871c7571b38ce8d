// Package labeler is a bounding box and keypoint labeling engine for YOLO
// pose datasets.
//
// A Labeler holds the state of one labeling session: the list of images in a
// directory, the image being edited with its boxes and keypoints, the edit
// gesture in progress, and where samples are saved. A front end forwards
// canvas-space mouse events and actions to it and redraws when a result
// reports a change.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		labeler "github.com/menta2k/keypoint-labeler"
//		"github.com/menta2k/keypoint-labeler/internal/counter"
//	)
//
//	func main() {
//		l, err := labeler.New(labeler.Options{
//			Counter:            counter.Load(counter.DefaultPath, nil),
//			NumKeypointClasses: 3,
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//		if err := l.LoadDirectory("frames"); err != nil {
//			log.Fatal(err)
//		}
//		l.SetOutputDir("dataset")
//		l.SelectImage(0)
//		l.Layout(800, 600)
//
//		// drag a box on the canvas
//		l.MouseDown(150, 50)
//		l.MouseDrag(550, 450)
//		l.MouseUp(550, 450)
//
//		if _, err := l.SaveAndNext(); err != nil {
//			log.Fatal(err)
//		}
//		log.Println(l.Status())
//	}
//
// The engine is built from small packages:
//
//  1. Geometry (pkg/geometry): canvas and image coordinate transforms
//  2. Annotation (pkg/annotation): the box and keypoint store
//  3. Hit testing (pkg/hittest): boxes, resize handles and keypoints under the pointer
//  4. Session (pkg/session): the mouse gesture state machine
//  5. Detection (pkg/detection): detector boundary and import of predictions
//  6. Labels (pkg/labels): the YOLO pose label format
//
// Detector backends live in pkg/ollama, pkg/llamacpp, pkg/remote and pkg/vision.
package labeler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/menta2k/keypoint-labeler/internal/counter"
	"github.com/menta2k/keypoint-labeler/internal/utils"
	"github.com/menta2k/keypoint-labeler/pkg/annotation"
	"github.com/menta2k/keypoint-labeler/pkg/detection"
	"github.com/menta2k/keypoint-labeler/pkg/geometry"
	"github.com/menta2k/keypoint-labeler/pkg/labels"
	"github.com/menta2k/keypoint-labeler/pkg/processing"
	"github.com/menta2k/keypoint-labeler/pkg/session"
	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// Version of the labeling engine
const Version = "1.0.0"

// Options configures a Labeler. Counter is required; everything else has a
// usable zero value.
type Options struct {
	Detector           detection.Provider
	Counter            *counter.Counter
	Params             *types.InferenceParams
	NumKeypointClasses int
	ClassID            int
	HandleThreshold    float64
	// Quality is used when the saved image copy is JPEG or WebP
	Quality int
	Logger  *zap.SugaredLogger
}

// SaveResult describes one saved sample
type SaveResult struct {
	Key       int
	ImagePath string
	LabelPath string
	// Done is set by SaveAndNext when the saved image was the last of the list
	Done bool
}

// Labeler is the labeling workspace. It is not safe for concurrent use.
type Labeler struct {
	logger    *zap.SugaredLogger
	processor *processing.Processor
	detector  detection.Provider
	counter   *counter.Counter

	store   *annotation.Store
	session *session.Session

	images    []string
	index     int
	imagePath string
	img       image.Image

	canvasW, canvasH int

	outputDir          string
	params             types.InferenceParams
	numKeypointClasses int
	quality            int
	names              map[int]string
	status             string
}

// New creates a Labeler with no image loaded
func New(opts Options) (*Labeler, error) {
	if opts.Counter == nil {
		return nil, types.InvalidInputf("a key counter is required")
	}
	if opts.NumKeypointClasses < 0 {
		return nil, types.InvalidInputf("keypoint class count %d is negative", opts.NumKeypointClasses)
	}
	params := types.DefaultInferenceParams()
	if opts.Params != nil {
		if err := opts.Params.Validate(); err != nil {
			return nil, err
		}
		params = *opts.Params
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	store := annotation.NewStore()
	sess := session.New(store, logger.Named("session"))
	if err := sess.SetClassID(opts.ClassID); err != nil {
		return nil, err
	}
	if opts.HandleThreshold != 0 {
		if err := sess.SetThreshold(opts.HandleThreshold); err != nil {
			return nil, err
		}
	}

	return &Labeler{
		logger:             logger,
		processor:          processing.NewProcessor(),
		detector:           opts.Detector,
		counter:            opts.Counter,
		store:              store,
		session:            sess,
		index:              -1,
		params:             params,
		numKeypointClasses: opts.NumKeypointClasses,
		quality:            opts.Quality,
		names:              map[int]string{},
	}, nil
}

// Status returns the last status message
func (l *Labeler) Status() string {
	return l.status
}

func (l *Labeler) setStatus(msg string) {
	if msg == "" {
		return
	}
	l.status = msg
	l.logger.Debugw("status", "msg", msg)
}

// LoadDirectory replaces the image list with the images found in dir. The
// current image, if any, stays loaded.
func (l *Labeler) LoadDirectory(dir string) error {
	images, err := utils.ScanImages(dir)
	if err != nil {
		return types.ExternalFailure("load directory", err)
	}
	l.images = images
	l.index = -1
	l.setStatus(fmt.Sprintf("Loaded %d images from %s", len(images), dir))
	return nil
}

// Images returns the image list
func (l *Labeler) Images() []string {
	return append([]string(nil), l.images...)
}

// Index returns the list position of the current image, -1 when the image
// was not loaded from the list
func (l *Labeler) Index() int {
	return l.index
}

// SetOutputDir sets where samples are saved, creating the directory
func (l *Labeler) SetOutputDir(dir string) error {
	if dir == "" {
		return types.InvalidInputf("empty output directory")
	}
	if err := utils.EnsureDir(dir); err != nil {
		return types.ExternalFailure("create output directory", err)
	}
	if !utils.DirExists(dir) {
		return types.InvalidInputf("output path %s is not a directory", dir)
	}
	l.outputDir = dir
	l.setStatus("Output directory: " + dir)
	return nil
}

// SelectImage loads image i of the list
func (l *Labeler) SelectImage(i int) error {
	if i < 0 || i >= len(l.images) {
		return fmt.Errorf("select image %d of %d: %w", i, len(l.images), types.ErrIndexOutOfRange)
	}
	if err := l.LoadImage(l.images[i]); err != nil {
		return err
	}
	l.index = i
	return nil
}

// LoadImage decodes path and makes it the current image. The annotations of
// the previous image are discarded and the session is reset. On failure the
// previous image stays current.
func (l *Labeler) LoadImage(path string) error {
	img, err := l.processor.LoadImage(path)
	if err != nil {
		return types.ExternalFailure("load image", err)
	}

	l.img = img
	l.imagePath = path
	l.index = -1
	l.store.Clear()
	l.session.Reset()
	l.session.SetView(geometry.Transform{}, 0, 0)
	if l.canvasW > 0 && l.canvasH > 0 {
		if err := l.Layout(l.canvasW, l.canvasH); err != nil {
			l.logger.Debugw("layout after load", "error", err)
		}
	}
	l.setStatus("Loaded: " + filepath.Base(path))
	return nil
}

// ImagePath returns the path of the current image, "" when none is loaded
func (l *Labeler) ImagePath() string {
	return l.imagePath
}

// Image returns the current image
func (l *Labeler) Image() (image.Image, bool) {
	return l.img, l.img != nil
}

// Layout fits the current image into a canvasW x canvasH canvas. The size is
// remembered and reapplied when another image is loaded.
func (l *Labeler) Layout(canvasW, canvasH int) error {
	l.canvasW, l.canvasH = canvasW, canvasH
	if l.img == nil {
		return types.Unavailablef("no image loaded")
	}
	b := l.img.Bounds()
	t, err := geometry.ComputeTransform(canvasW, canvasH, b.Dx(), b.Dy())
	if err != nil {
		return err
	}
	l.session.SetView(t, b.Dx(), b.Dy())
	return nil
}

// Transform returns the display transform of the current layout
func (l *Labeler) Transform() geometry.Transform {
	return l.session.Transform()
}

// MouseDown forwards a press at a canvas position to the edit session
func (l *Labeler) MouseDown(canvasX, canvasY float64) session.Result {
	return l.forward(l.session.MouseDown(canvasX, canvasY))
}

// MouseDrag forwards pointer motion with the button held
func (l *Labeler) MouseDrag(canvasX, canvasY float64) session.Result {
	return l.forward(l.session.MouseDrag(canvasX, canvasY))
}

// MouseUp forwards a release
func (l *Labeler) MouseUp(canvasX, canvasY float64) session.Result {
	return l.forward(l.session.MouseUp(canvasX, canvasY))
}

// HoverCursor names the pointer shape for a canvas position
func (l *Labeler) HoverCursor(canvasX, canvasY float64) string {
	return l.session.HoverCursor(canvasX, canvasY)
}

func (l *Labeler) forward(r session.Result) session.Result {
	l.setStatus(r.Status)
	return r
}

// SetMode switches between box and keypoint editing
func (l *Labeler) SetMode(m session.Mode) session.Result {
	return l.forward(l.session.SetMode(m))
}

// Mode returns the editing mode
func (l *Labeler) Mode() session.Mode {
	return l.session.Mode()
}

// SetClassID sets the class for new boxes and keypoints
func (l *Labeler) SetClassID(id int) error {
	return l.session.SetClassID(id)
}

// SetNumKeypointClasses sets the number of keypoint slots written per label line
func (l *Labeler) SetNumKeypointClasses(n int) error {
	if n < 0 {
		return types.InvalidInputf("keypoint class count %d is negative", n)
	}
	l.numKeypointClasses = n
	return nil
}

// NumKeypointClasses returns the number of keypoint slots per label line
func (l *Labeler) NumKeypointClasses() int {
	return l.numKeypointClasses
}

// SetInferenceParams replaces the detector thresholds
func (l *Labeler) SetInferenceParams(p types.InferenceParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	l.params = p
	l.setStatus("Inference settings updated")
	return nil
}

// InferenceParams returns the detector thresholds
func (l *Labeler) InferenceParams() types.InferenceParams {
	return l.params
}

// SetDetector replaces the detector used by RunInference
func (l *Labeler) SetDetector(d detection.Provider) {
	l.detector = d
}

// Boxes returns a copy of the current annotations
func (l *Labeler) Boxes() []annotation.Box {
	return l.store.Boxes()
}

// Selected returns the selected box index
func (l *Labeler) Selected() (int, bool) {
	return l.session.Selected()
}

// Select selects box i
func (l *Labeler) Select(i int) error {
	return l.session.Select(i)
}

// Names returns the class names reported by the detector
func (l *Labeler) Names() map[int]string {
	out := make(map[int]string, len(l.names))
	for k, v := range l.names {
		out[k] = v
	}
	return out
}

// DeleteSelected removes the selected box. It reports false when nothing is
// selected.
func (l *Labeler) DeleteSelected() bool {
	sel, ok := l.session.Selected()
	if !ok {
		l.setStatus("No annotation selected")
		return false
	}
	if err := l.store.DeleteBox(sel); err != nil {
		l.setStatus("No annotation selected")
		return false
	}
	l.session.ClearSelection()
	l.setStatus("Deleted selected annotation")
	return true
}

// ClearAnnotations removes every box of the current image
func (l *Labeler) ClearAnnotations() {
	l.store.Clear()
	l.session.Reset()
	l.setStatus("Annotations cleared")
}

// ClearSelectedKeypoints removes the keypoints of the selected box. It
// reports false when nothing is selected.
func (l *Labeler) ClearSelectedKeypoints() bool {
	sel, ok := l.session.Selected()
	if !ok {
		l.setStatus("No box selected")
		return false
	}
	if err := l.store.ClearKeypoints(sel); err != nil {
		l.setStatus("No box selected")
		return false
	}
	l.setStatus("Cleared keypoints from selected box")
	return true
}

// RunInference runs the detector on the current image and appends its
// detections to the annotations. It returns the number of boxes added. On
// any failure the annotations are unchanged.
func (l *Labeler) RunInference(ctx context.Context) (int, error) {
	if l.img == nil {
		return 0, types.Unavailablef("no image loaded")
	}
	if l.detector == nil {
		return 0, types.Unavailablef("no detector configured")
	}

	result, err := l.detector.Detect(ctx, l.imagePath, l.params.Confidence, l.params.IoU)
	if err != nil {
		if !errors.Is(err, types.ErrExternalFailure) {
			err = types.ExternalFailure("detector", err)
		}
		return 0, err
	}
	if result == nil || len(result.Detections) == 0 {
		l.setStatus("No objects detected")
		return 0, nil
	}

	boxes, err := detection.ImportDetections(result.Detections, l.params.Visibility)
	if err != nil {
		return 0, err
	}
	if err := l.store.Append(boxes...); err != nil {
		return 0, err
	}

	if len(l.names) == 0 {
		for k, v := range result.Names {
			l.names[k] = v
		}
	}

	withKeypoints := false
	for _, d := range result.Detections {
		if len(d.Keypoints) > 0 {
			withKeypoints = true
			break
		}
	}
	if withKeypoints {
		l.setStatus(fmt.Sprintf("Detected %d objects with keypoints", len(boxes)))
	} else {
		l.setStatus(fmt.Sprintf("Detected %d objects", len(boxes)))
	}
	l.logger.Infow("inference", "image", l.imagePath, "boxes", len(boxes))
	return len(boxes), nil
}

// Save writes the current image and its labels as a new sample. The key
// counter is advanced first so a sample number is never reused. When the label
// cannot be written the image copy is removed again.
func (l *Labeler) Save() (SaveResult, error) {
	if l.img == nil {
		return SaveResult{}, types.Unavailablef("no image loaded")
	}
	if l.outputDir == "" {
		return SaveResult{}, types.Unavailablef("output directory not set")
	}

	for _, dir := range []string{utils.ImagesDir, utils.LabelsDir} {
		if err := utils.EnsureDir(filepath.Join(l.outputDir, dir)); err != nil {
			return SaveResult{}, types.ExternalFailure("create output directory", err)
		}
	}

	b := l.img.Bounds()
	data, err := labels.Encode(l.store.Boxes(), b.Dx(), b.Dy(), l.numKeypointClasses)
	if err != nil {
		return SaveResult{}, err
	}

	key, err := l.counter.Next()
	if err != nil {
		return SaveResult{}, types.ExternalFailure("key counter", err)
	}
	imgOut, labelOut := utils.OutputPaths(l.outputDir, l.imagePath, key)

	if err := l.processor.SaveImage(l.img, imgOut, l.quality); err != nil {
		return SaveResult{}, types.ExternalFailure("save image", err)
	}
	if err := os.WriteFile(labelOut, data, 0o644); err != nil {
		// an image without its label is not a sample
		err = multierr.Append(err, os.Remove(imgOut))
		return SaveResult{}, types.ExternalFailure("save labels", err)
	}

	l.setStatus(fmt.Sprintf("Saved: %s and %s", filepath.Base(imgOut), filepath.Base(labelOut)))
	l.logger.Infow("saved sample", "key", key, "image", imgOut, "labels", labelOut, "boxes", l.store.Len())
	return SaveResult{Key: key, ImagePath: imgOut, LabelPath: labelOut}, nil
}

// SaveAndNext saves the current sample and loads the next image of the list.
// After the last image the result has Done set.
func (l *Labeler) SaveAndNext() (SaveResult, error) {
	res, err := l.Save()
	if err != nil {
		return res, err
	}
	if l.index < 0 {
		return res, nil
	}

	next := l.index + 1
	if next >= len(l.images) {
		res.Done = true
		l.setStatus("All images labeled!")
		return res, nil
	}
	if err := l.SelectImage(next); err != nil {
		return res, err
	}
	return res, nil
}

// LoadLabels replaces the annotations with the boxes of a label file saved
// for the current image. The slot count is read from the file.
func (l *Labeler) LoadLabels(path string) error {
	if l.img == nil {
		return types.Unavailablef("no image loaded")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ExternalFailure("read labels", err)
	}
	b := l.img.Bounds()
	boxes, err := labels.Decode(data, b.Dx(), b.Dy(), -1)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := l.store.Replace(boxes...); err != nil {
		return err
	}
	l.session.Reset()
	l.setStatus(fmt.Sprintf("Loaded %d boxes from %s", len(boxes), filepath.Base(path)))
	return nil
}

// Render draws the current image and annotations the way they appear on the
// canvas set by Layout.
func (l *Labeler) Render() (*image.NRGBA, error) {
	if l.img == nil {
		return nil, types.Unavailablef("no image loaded")
	}
	t := l.session.Transform()
	if t.Scale <= 0 {
		return nil, geometry.ErrNotReady
	}

	opts := processing.OverlayOptions{Selected: -1}
	if sel, ok := l.session.Selected(); ok {
		opts.Selected = sel
	}
	if live, ok := l.session.LiveRect(); ok {
		opts.Live = &live
	}
	return l.processor.RenderOverlay(l.img, l.store.Boxes(), t, l.canvasW, l.canvasH, opts), nil
}
