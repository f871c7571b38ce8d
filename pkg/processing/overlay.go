package processing

import (
	"image"
	"image/color"
	"strconv"

	"github.com/disintegration/imaging"

	"github.com/menta2k/keypoint-labeler/pkg/annotation"
	"github.com/menta2k/keypoint-labeler/pkg/geometry"
	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// classPalette is indexed by class id modulo its length
var classPalette = []color.NRGBA{
	{255, 0, 0, 255},     // red
	{0, 0, 255, 255},     // blue
	{0, 128, 0, 255},     // green
	{255, 255, 0, 255},   // yellow
	{0, 255, 255, 255},   // cyan
	{255, 0, 255, 255},   // magenta
	{255, 165, 0, 255},   // orange
	{128, 0, 128, 255},   // purple
	{255, 192, 203, 255}, // pink
	{0, 255, 0, 255},     // lime
	{0, 0, 128, 255},     // navy
	{0, 128, 128, 255},   // teal
}

var (
	background = color.NRGBA{64, 64, 64, 255}
	handleFill = color.NRGBA{255, 255, 255, 255}
	liveColor  = color.NRGBA{255, 255, 255, 255}
)

// ClassColor returns the palette color of a class id
func ClassColor(classID int) color.NRGBA {
	if classID < 0 {
		classID = -classID
	}
	return classPalette[classID%len(classPalette)]
}

// OverlayOptions controls what RenderOverlay draws besides the boxes
type OverlayOptions struct {
	// Selected is the index of the box whose handles are drawn, -1 for none
	Selected int
	// Live is the rectangle being drawn, if any
	Live *annotation.Box
	// HandleSize is the side of a handle square in canvas pixels
	HandleSize int
}

// RenderOverlay draws img scaled by t onto a canvasW x canvasH surface, then
// the boxes, their keypoints and the handles of the selected box on top.
// Visible keypoints are filled squares, hidden ones are crosses.
func (p *Processor) RenderOverlay(img image.Image, boxes []annotation.Box, t geometry.Transform, canvasW, canvasH int, opts OverlayOptions) *image.NRGBA {
	canvas := imaging.New(canvasW, canvasH, background)

	b := img.Bounds()
	dw, dh := geometry.DisplaySize(b.Dx(), b.Dy(), t.Scale)
	if dw > 0 && dh > 0 {
		scaled := imaging.Resize(img, dw, dh, imaging.Lanczos)
		canvas = imaging.Paste(canvas, scaled, image.Pt(t.OffsetX, t.OffsetY))
	}

	handle := opts.HandleSize
	if handle <= 0 {
		handle = 6
	}

	for i, box := range boxes {
		c := ClassColor(box.ClassID)
		x1, y1 := geometry.ToDisplaySpace(box.X1, box.Y1, t)
		x2, y2 := geometry.ToDisplaySpace(box.X2, box.Y2, t)
		drawRect(canvas, x1, y1, x2, y2, c, 2)
		drawNumber(canvas, box.ClassID, x1+3, y1+3, c, 2)

		for _, kp := range box.Keypoints {
			kx, ky := geometry.ToDisplaySpace(kp.X, kp.Y, t)
			kc := ClassColor(kp.ClassID)
			if kp.Visible {
				fillRect(canvas, kx-3, ky-3, kx+4, ky+4, kc)
			} else {
				drawLine(canvas, kx-4, ky-4, kx+4, ky+4, kc)
				drawLine(canvas, kx-4, ky+4, kx+4, ky-4, kc)
			}
		}

		if i == opts.Selected {
			for _, h := range handlePoints(x1, y1, x2, y2) {
				half := handle / 2
				fillRect(canvas, h.X-half, h.Y-half, h.X-half+handle, h.Y-half+handle, handleFill)
				drawRect(canvas, h.X-half, h.Y-half, h.X-half+handle, h.Y-half+handle, c, 1)
			}
		}
	}

	if opts.Live != nil {
		lx1, ly1 := geometry.ToDisplaySpace(opts.Live.X1, opts.Live.Y1, t)
		lx2, ly2 := geometry.ToDisplaySpace(opts.Live.X2, opts.Live.Y2, t)
		drawRect(canvas, lx1, ly1, lx2, ly2, liveColor, 1)
	}
	return canvas
}

// handlePoints returns the canvas positions of the eight handles keyed like
// the hit tester reports them.
func handlePoints(x1, y1, x2, y2 int) map[types.Handle]image.Point {
	mx, my := (x1+x2)/2, (y1+y2)/2
	return map[types.Handle]image.Point{
		types.HandleTopLeft:     {x1, y1},
		types.HandleTopRight:    {x2, y1},
		types.HandleBottomLeft:  {x1, y2},
		types.HandleBottomRight: {x2, y2},
		types.HandleLeft:        {x1, my},
		types.HandleRight:       {x2, my},
		types.HandleTop:         {mx, y1},
		types.HandleBottom:      {mx, y2},
	}
}

// digitPatterns are 3x5 glyphs, one row of 3 bits per entry
var digitPatterns = [10][5]uint8{
	{0b111, 0b101, 0b101, 0b101, 0b111},
	{0b010, 0b110, 0b010, 0b010, 0b111},
	{0b111, 0b001, 0b111, 0b100, 0b111},
	{0b111, 0b001, 0b111, 0b001, 0b111},
	{0b101, 0b101, 0b111, 0b001, 0b001},
	{0b111, 0b100, 0b111, 0b001, 0b111},
	{0b111, 0b100, 0b111, 0b101, 0b111},
	{0b111, 0b001, 0b001, 0b001, 0b001},
	{0b111, 0b101, 0b111, 0b101, 0b111},
	{0b111, 0b101, 0b111, 0b001, 0b111},
}

func drawNumber(img *image.NRGBA, n, x, y int, c color.NRGBA, scale int) {
	for _, ch := range strconv.Itoa(n) {
		if ch < '0' || ch > '9' {
			x += 4 * scale
			continue
		}
		glyph := digitPatterns[ch-'0']
		for row := 0; row < 5; row++ {
			for col := 0; col < 3; col++ {
				if glyph[row]&(1<<(2-col)) != 0 {
					px, py := x+col*scale, y+row*scale
					fillRect(img, px, py, px+scale, py+scale, c)
				}
			}
		}
		x += 4 * scale
	}
}

func drawRect(img *image.NRGBA, x1, y1, x2, y2 int, c color.NRGBA, stroke int) {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y1+s, x1, x2+1, c)
		drawHLine(img, y2-s, x1, x2+1, c)
		drawVLine(img, x1+s, y1, y2+1, c)
		drawVLine(img, x2-s, y1, y2+1, c)
	}
}

func fillRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	for y := y0; y < y1; y++ {
		drawHLine(img, y, x0, x1, c)
	}
}

// drawLine draws a 1px line with Bresenham's algorithm
func drawLine(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		setPixel(img, x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func setPixel(img *image.NRGBA, x, y int, c color.NRGBA) {
	if !(image.Point{x, y}.In(img.Bounds())) {
		return
	}
	img.SetNRGBA(x, y, c)
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
