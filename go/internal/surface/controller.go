package surface

import (
	"encoding/json"
	"fmt"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/doodlegame/doodle/go/internal/events"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Tool is the active drawing tool.
type Tool string

const (
	ToolBrush       Tool = "brush"
	ToolEraser      Tool = "eraser"
	ToolCircle      Tool = "circle"
	ToolRectangle   Tool = "rectangle"
	ToolColorPicker Tool = "colorPicker"
	ToolFill        Tool = "fill"
)

func (t Tool) isShape() bool {
	return t == ToolCircle || t == ToolRectangle
}

// DefaultSnapshotDebounce is how long the surface waits after the last change before
// sending a catch-up snapshot.
const DefaultSnapshotDebounce = 1500 * time.Millisecond

// Emitter sends a wire payload to the relay.
type Emitter interface {
	Send(v any) error
}

type Config struct {
	RoomID           string
	ClientID         string
	Width            int
	Height           int
	Color            string
	LineWidth        float64
	UndoDepth        int
	SnapshotDebounce time.Duration
}

func DefaultConfig() Config {
	return Config{
		Width:            800,
		Height:           600,
		Color:            "#000000",
		LineWidth:        4,
		UndoDepth:        DefaultUndoDepth,
		SnapshotDebounce: DefaultSnapshotDebounce,
	}
}

type point struct {
	x, y float64
}

// Controller owns the pixel buffer and turns local pointer input and remote relay
// frames into buffer mutations. Every exported method holds the lock for its whole
// mutation, so local input and remote frames never interleave mid-operation.
type Controller struct {
	mu sync.Mutex

	buf       *Buffer
	undo      *UndoStack
	tool      Tool
	color     color.RGBA
	lineWidth float64
	isDrawer  bool

	roomID   string
	clientID string

	emitter Emitter
	clock   clockwork.Clock

	drawing  bool
	last     point
	start    point
	preShape *Buffer

	debounce      time.Duration
	snapshotTimer clockwork.Timer
	// snapshotGen invalidates callbacks from timers that fired after being replaced.
	snapshotGen uint64
}

func NewController(cfg Config, emitter Emitter, clock clockwork.Clock) (*Controller, error) {
	def := DefaultConfig()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.Color == "" {
		cfg.Color = def.Color
	}
	if cfg.LineWidth <= 0 {
		cfg.LineWidth = def.LineWidth
	}
	if cfg.SnapshotDebounce <= 0 {
		cfg.SnapshotDebounce = def.SnapshotDebounce
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	c, err := ParseColor(cfg.Color)
	if err != nil {
		return nil, err
	}

	buf := NewBuffer(cfg.Width, cfg.Height)
	undo := NewUndoStack(cfg.UndoDepth)
	undo.Reset(buf)

	return &Controller{
		buf:       buf,
		undo:      undo,
		tool:      ToolBrush,
		color:     c,
		lineWidth: cfg.LineWidth,
		roomID:    cfg.RoomID,
		clientID:  cfg.ClientID,
		emitter:   emitter,
		clock:     clock,
		debounce:  cfg.SnapshotDebounce,
	}, nil
}

func (c *Controller) SetTool(t Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tool = t
}

func (c *Controller) Tool() Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tool
}

func (c *Controller) SetColor(s string) error {
	col, err := ParseColor(s)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.color = col
	return nil
}

func (c *Controller) Color() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FormatColor(c.color)
}

func (c *Controller) SetLineWidth(w float64) {
	if w <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lineWidth = w
}

// SetDrawer marks whether this participant is the active drawer for the turn.
func (c *Controller) SetDrawer(isDrawer bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isDrawer = isDrawer
}

// SetRoom points the controller at a room after a join.
func (c *Controller) SetRoom(roomID, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
	c.clientID = clientID
}

func (c *Controller) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Width(), c.buf.Height()
}

// Pixel samples the buffer.
func (c *Controller) Pixel(x, y int) color.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Pixel(x, y)
}

// Snapshot returns a copy of the current buffer.
func (c *Controller) Snapshot() *Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Clone()
}

// UndoDepth reports how many states the undo stack holds.
func (c *Controller) UndoDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.undo.Len()
}

func (c *Controller) strokeColor() color.RGBA {
	if c.tool == ToolEraser {
		return White
	}
	return c.color
}

func (c *Controller) PointerDown(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := point{x, y}
	switch c.tool {
	case ToolFill:
		c.fillLocal(p)
	case ToolColorPicker:
		if px := c.buf.Pixel(int(math.Floor(x)), int(math.Floor(y))); px.A != 0 {
			c.color = px
		}
		c.tool = ToolBrush
	case ToolCircle, ToolRectangle:
		c.preShape = c.buf.Clone()
		c.start, c.last = p, p
		c.drawing = true
	default:
		c.last = p
		c.drawing = true
	}
}

func (c *Controller) PointerMove(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.drawing {
		return
	}

	p := point{x, y}
	if c.tool.isShape() {
		c.buf.Restore(c.preShape)
		c.buf.Segments(c.shapeOutline(c.start, p), c.lineWidth, c.color)
		c.last = p
		return
	}

	seg := Segment{c.last.x, c.last.y, x, y}
	col := c.strokeColor()
	c.buf.Line(seg.X0, seg.Y0, seg.X1, seg.Y1, c.lineWidth, col)
	c.emit(c.drawPayload(seg, col))
	c.last = p
}

func (c *Controller) PointerUp(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.drawing {
		return
	}
	c.drawing = false

	if c.tool.isShape() {
		segs := c.shapeOutline(c.start, point{x, y})
		c.buf.Restore(c.preShape)
		c.buf.Segments(segs, c.lineWidth, c.color)
		c.preShape = nil
		for _, seg := range segs {
			c.emit(c.drawPayload(seg, c.color))
		}
	}

	c.undo.Push(c.buf)
	c.emit(events.ControlPayload{Type: events.TypeStrokeEnd, RoomID: c.roomID, DrawerID: c.clientID})
	c.scheduleSnapshot()
}

func (c *Controller) shapeOutline(from, to point) []Segment {
	if c.tool == ToolCircle {
		return CircleOutline(from.x, from.y, to.x, to.y)
	}
	return RectOutline(from.x, from.y, to.x, to.y)
}

func (c *Controller) fillLocal(p point) {
	if c.buf.FloodFill(int(math.Floor(p.x)), int(math.Floor(p.y)), c.color) == 0 {
		return
	}
	c.undo.Push(c.buf)

	nx, ny := p.x/float64(c.buf.Width()), p.y/float64(c.buf.Height())
	c.emit(events.FillPayload{
		Type:     events.TypeFill,
		RoomID:   c.roomID,
		X:        p.x,
		Y:        p.y,
		NX:       &nx,
		NY:       &ny,
		Color:    FormatColor(c.color),
		DrawerID: c.clientID,
	})
	c.scheduleSnapshot()
}

func (c *Controller) drawPayload(seg Segment, col color.RGBA) events.DrawPayload {
	w, h := float64(c.buf.Width()), float64(c.buf.Height())
	nx, ny := seg.X1/w, seg.Y1/h
	npx, npy := seg.X0/w, seg.Y0/h
	lwn := c.lineWidth / w
	return events.DrawPayload{
		Type:       events.TypeDraw,
		RoomID:     c.roomID,
		X:          seg.X1,
		Y:          seg.Y1,
		PrevX:      seg.X0,
		PrevY:      seg.Y0,
		NX:         &nx,
		NY:         &ny,
		NPrevX:     &npx,
		NPrevY:     &npy,
		Color:      FormatColor(col),
		LineWidth:  c.lineWidth,
		LineWidthN: &lwn,
		DrawerID:   c.clientID,
	}
}

// Undo reverts the last local change and tells the room.
func (c *Controller) Undo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.undo.Undo()
	if !ok {
		return false
	}
	c.buf.Restore(prev)
	c.emit(events.ControlPayload{Type: events.TypeUndo, RoomID: c.roomID, DrawerID: c.clientID})
	c.scheduleSnapshot()
	return true
}

// Clear blanks the canvas and tells the room.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Clear()
	c.undo.Push(c.buf)
	c.cancelSnapshot()
	c.emit(events.ControlPayload{Type: events.TypeClear, RoomID: c.roomID, DrawerID: c.clientID})
}

// Resize reallocates the buffer. The active drawer keeps a scaled copy of its own
// canvas; everyone else asks the relay for the room's canvas.
func (c *Controller) Resize(w, h int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w <= 0 || h <= 0 || (w == c.buf.Width() && h == c.buf.Height()) {
		return
	}

	saved := c.buf
	c.buf = NewBuffer(w, h)
	c.drawing = false
	c.preShape = nil

	if c.isDrawer {
		c.buf.DrawScaled(saved.Image())
		c.undo.Reset(c.buf)
		return
	}

	c.undo.Reset(c.buf)
	c.emit(events.RequestSyncPayload{Type: events.TypeRequestSync, RoomID: c.roomID})
}

// HandleRemote applies one frame received from the relay.
func (c *Controller) HandleRemote(data []byte) error {
	typ, err := events.PeekType(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch typ {
	case events.TypeDraw:
		var p events.DrawPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode draw: %w", err)
		}
		return c.applyDraw(p)

	case events.TypeFill:
		var p events.FillPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode fill: %w", err)
		}
		return c.applyFill(p)

	case events.TypeClear:
		c.buf.Clear()
		c.undo.Push(c.buf)

	case events.TypeSyncClear:
		c.buf.Clear()
		c.undo.Reset(c.buf)

	case events.TypeSync:
		var p events.SyncPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode sync: %w", err)
		}
		img, err := DecodeDataURL(p.Image)
		if err != nil {
			return err
		}
		c.buf.DrawScaled(img)
		c.undo.Reset(c.buf)

	case events.TypeUndo:
		if prev, ok := c.undo.Undo(); ok {
			c.buf.Restore(prev)
		}

	case events.TypeStrokeEnd:
		c.undo.Push(c.buf)

	default:
		log.Debug().Str("type", string(typ)).Msg("surface ignoring frame")
	}
	return nil
}

// local maps a normalized coordinate onto this buffer, falling back to the legacy
// pixel value when the producer did not send one.
func local(n *float64, px float64, dim int) float64 {
	if n == nil {
		return px
	}
	return *n * float64(dim)
}

func (c *Controller) applyDraw(p events.DrawPayload) error {
	col, err := ParseColor(p.Color)
	if err != nil {
		return err
	}
	w, h := c.buf.Width(), c.buf.Height()
	width := p.LineWidth
	if p.LineWidthN != nil {
		width = *p.LineWidthN * float64(w)
	}
	c.buf.Line(
		local(p.NPrevX, p.PrevX, w), local(p.NPrevY, p.PrevY, h),
		local(p.NX, p.X, w), local(p.NY, p.Y, h),
		math.Max(width, 1), col,
	)
	return nil
}

func (c *Controller) applyFill(p events.FillPayload) error {
	col, err := ParseColor(p.Color)
	if err != nil {
		return err
	}
	x := local(p.NX, p.X, c.buf.Width())
	y := local(p.NY, p.Y, c.buf.Height())
	if c.buf.FloodFill(int(math.Floor(x)), int(math.Floor(y)), col) > 0 {
		c.undo.Push(c.buf)
	}
	return nil
}

func (c *Controller) emit(v any) {
	if c.emitter == nil {
		return
	}
	if err := c.emitter.Send(v); err != nil {
		log.Warn().Err(err).Str("room_id", c.roomID).Msg("failed to send surface event")
	}
}

func (c *Controller) scheduleSnapshot() {
	c.cancelSnapshot()
	gen := c.snapshotGen
	c.snapshotTimer = c.clock.AfterFunc(c.debounce, func() { c.sendSnapshot(gen) })
}

func (c *Controller) cancelSnapshot() {
	c.snapshotGen++
	if c.snapshotTimer != nil {
		c.snapshotTimer.Stop()
		c.snapshotTimer = nil
	}
}

func (c *Controller) sendSnapshot(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.snapshotGen {
		return
	}
	c.snapshotTimer = nil
	image, err := c.buf.DataURL()
	if err != nil {
		log.Error().Err(err).Str("room_id", c.roomID).Msg("failed to encode snapshot")
		return
	}
	c.emit(events.SnapshotPayload{
		Type:     events.TypeSnapshot,
		RoomID:   c.roomID,
		DrawerID: c.clientID,
		Image:    image,
	})
	log.Debug().Str("room_id", c.roomID).Int("bytes", len(image)).Msg("snapshot sent")
}

// Close stops any pending snapshot.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelSnapshot()
}
