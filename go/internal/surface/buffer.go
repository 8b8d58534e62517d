package surface

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"

	"golang.org/x/image/draw"
)

const dataURLPrefix = "data:image/png;base64,"

// Buffer is the pixel surface. Pixel (x, y) covers [x, x+1) x [y, y+1).
type Buffer struct {
	img *image.RGBA
}

// NewBuffer returns a white w x h buffer. Dimensions below 1 are raised to 1.
func NewBuffer(w, h int) *Buffer {
	b := &Buffer{img: image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))}
	b.Clear()
	return b
}

func (b *Buffer) Width() int  { return b.img.Bounds().Dx() }
func (b *Buffer) Height() int { return b.img.Bounds().Dy() }

// Image exposes the backing image. Callers must not keep it across mutations.
func (b *Buffer) Image() *image.RGBA { return b.img }

func (b *Buffer) Clear() {
	draw.Draw(b.img, b.img.Bounds(), image.NewUniform(White), image.Point{}, draw.Src)
}

func (b *Buffer) Clone() *Buffer {
	img := image.NewRGBA(b.img.Bounds())
	copy(img.Pix, b.img.Pix)
	return &Buffer{img: img}
}

// Restore copies src into b, scaling when the dimensions differ.
func (b *Buffer) Restore(src *Buffer) {
	if src.img.Bounds() == b.img.Bounds() {
		copy(b.img.Pix, src.img.Pix)
		return
	}
	b.DrawScaled(src.img)
}

// DrawScaled paints src stretched over the whole buffer.
func (b *Buffer) DrawScaled(src image.Image) {
	b.Clear()
	draw.ApproxBiLinear.Scale(b.img, b.img.Bounds(), src, src.Bounds(), draw.Over, nil)
}

// Pixel returns the color at (x, y), or transparent when out of bounds.
func (b *Buffer) Pixel(x, y int) color.RGBA {
	if !(image.Point{X: x, Y: y}).In(b.img.Bounds()) {
		return color.RGBA{}
	}
	return b.img.RGBAAt(x, y)
}

func (b *Buffer) set(x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(b.img.Bounds()) {
		b.img.SetRGBA(x, y, c)
	}
}

// stamp paints a filled disc of the given diameter centered at (cx, cy).
func (b *Buffer) stamp(cx, cy, width float64, c color.RGBA) {
	b.set(int(math.Floor(cx)), int(math.Floor(cy)), c)
	r := width / 2
	if r <= 0.5 {
		return
	}
	r2 := r * r
	for py := int(math.Floor(cy - r)); py <= int(math.Ceil(cy+r)); py++ {
		for px := int(math.Floor(cx - r)); px <= int(math.Ceil(cx+r)); px++ {
			dx := float64(px) + 0.5 - cx
			dy := float64(py) + 0.5 - cy
			if dx*dx+dy*dy <= r2 {
				b.set(px, py, c)
			}
		}
	}
}

// Line strokes from (x0, y0) to (x1, y1) with round caps and joins.
func (b *Buffer) Line(x0, y0, x1, y1, width float64, c color.RGBA) {
	dist := math.Hypot(x1-x0, y1-y0)
	step := math.Max(0.5, width/4)
	n := int(math.Ceil(dist / step))
	for i := 0; i <= n; i++ {
		t := 1.0
		if n > 0 {
			t = float64(i) / float64(n)
		}
		b.stamp(x0+(x1-x0)*t, y0+(y1-y0)*t, width, c)
	}
}

// Segment is one straight piece of a stroke.
type Segment struct {
	X0, Y0, X1, Y1 float64
}

func (b *Buffer) Segments(segs []Segment, width float64, c color.RGBA) {
	for _, s := range segs {
		b.Line(s.X0, s.Y0, s.X1, s.Y1, width, c)
	}
}

// CircleOutline approximates the circle centered at (cx, cy) through (ex, ey).
func CircleOutline(cx, cy, ex, ey float64) []Segment {
	r := math.Hypot(ex-cx, ey-cy)
	if r == 0 {
		return []Segment{{cx, cy, cx, cy}}
	}
	n := min(max(int(2*math.Pi*r/4), 16), 128)
	segs := make([]Segment, 0, n)
	px, py := cx+r, cy
	for i := 1; i <= n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		x, y := cx+r*math.Cos(a), cy+r*math.Sin(a)
		segs = append(segs, Segment{px, py, x, y})
		px, py = x, y
	}
	return segs
}

// RectOutline returns the four edges of the rectangle spanned by two corners.
func RectOutline(x0, y0, x1, y1 float64) []Segment {
	return []Segment{
		{x0, y0, x1, y0},
		{x1, y0, x1, y1},
		{x1, y1, x0, y1},
		{x0, y1, x0, y0},
	}
}

// FloodFill replaces the 4-connected region of exactly the seed's color with c and
// returns the number of pixels changed.
func (b *Buffer) FloodFill(x, y int, c color.RGBA) int {
	bounds := b.img.Bounds()
	seed := image.Point{X: x, Y: y}
	if !seed.In(bounds) {
		return 0
	}
	target := b.img.RGBAAt(x, y)
	if target == c {
		return 0
	}

	filled := 0
	stack := []image.Point{seed}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !p.In(bounds) || b.img.RGBAAt(p.X, p.Y) != target {
			continue
		}
		b.img.SetRGBA(p.X, p.Y, c)
		filled++
		stack = append(stack,
			image.Point{X: p.X + 1, Y: p.Y},
			image.Point{X: p.X - 1, Y: p.Y},
			image.Point{X: p.X, Y: p.Y + 1},
			image.Point{X: p.X, Y: p.Y - 1},
		)
	}
	return filled
}

// DataURL encodes the buffer as a base64 PNG data URL.
func (b *Buffer) DataURL() (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, b.img); err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeDataURL decodes a PNG data URL, or bare base64 PNG data.
func DecodeDataURL(s string) (image.Image, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot base64: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot png: %w", err)
	}
	return img, nil
}
