package surface

import (
	"encoding/json"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/doodlegame/doodle/go/internal/events"
	"github.com/jonboulle/clockwork"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recorder) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, data)
	return nil
}

func (r *recorder) all() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

func (r *recorder) types() []events.Type {
	var out []events.Type
	for _, f := range r.all() {
		typ, _ := events.PeekType(f)
		out = append(out, typ)
	}
	return out
}

func (r *recorder) count(t events.Type) int {
	n := 0
	for _, typ := range r.types() {
		if typ == t {
			n++
		}
	}
	return n
}

func newController(t *testing.T, w, h int) (*Controller, *recorder, *clockwork.FakeClock) {
	t.Helper()
	rec := &recorder{}
	clock := clockwork.NewFakeClock()
	c, err := NewController(Config{
		RoomID:    "R1",
		ClientID:  "alice",
		Width:     w,
		Height:    h,
		Color:     "#ff0000",
		LineWidth: 2,
	}, rec, clock)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, rec, clock
}

var red = color.RGBA{R: 0xff, A: 0xff}

func TestBrushStrokeEmitsNormalizedDraw(t *testing.T) {
	c, rec, _ := newController(t, 100, 50)

	c.PointerDown(10, 10)
	c.PointerMove(20, 10)
	c.PointerUp(20, 10)

	assert.Equal(t, []events.Type{events.TypeDraw, events.TypeStrokeEnd}, rec.types())
	assert.Equal(t, red, c.Pixel(15, 10))
	assert.Equal(t, 2, c.UndoDepth())

	var draw events.DrawPayload
	require.NoError(t, json.Unmarshal(rec.all()[0], &draw))
	assert.Equal(t, "R1", draw.RoomID)
	assert.Equal(t, "alice", draw.DrawerID)
	assert.Equal(t, "#ff0000", draw.Color)
	assert.Equal(t, 20.0, draw.X)
	assert.Equal(t, 10.0, draw.PrevX)
	require.NotNil(t, draw.NX)
	assert.InDelta(t, 0.2, *draw.NX, 1e-9)
	assert.InDelta(t, 0.1, *draw.NPrevX, 1e-9)
	assert.InDelta(t, 0.2, *draw.NY, 1e-9)
	assert.InDelta(t, 0.02, *draw.LineWidthN, 1e-9)
}

func TestEraserPaintsWhite(t *testing.T) {
	c, _, _ := newController(t, 40, 40)
	c.PointerDown(5, 20)
	c.PointerMove(35, 20)
	c.PointerUp(35, 20)

	c.SetTool(ToolEraser)
	c.PointerDown(20, 5)
	c.PointerMove(20, 35)
	c.PointerUp(20, 35)

	assert.Equal(t, White, c.Pixel(20, 20))
	assert.Equal(t, red, c.Pixel(8, 20))
}

func TestRectangleEmitsOutlineOnPointerUp(t *testing.T) {
	c, rec, _ := newController(t, 60, 60)
	c.SetTool(ToolRectangle)

	c.PointerDown(10, 10)
	c.PointerMove(30, 30)
	c.PointerMove(40, 40)
	assert.Empty(t, rec.all(), "previews stay local")

	c.PointerUp(40, 40)

	assert.Equal(t, []events.Type{
		events.TypeDraw, events.TypeDraw, events.TypeDraw, events.TypeDraw, events.TypeStrokeEnd,
	}, rec.types())
	assert.Equal(t, red, c.Pixel(10, 25))
	assert.Equal(t, red, c.Pixel(40, 25))
	assert.Equal(t, White, c.Pixel(30, 20), "preview is not left behind")
	assert.Equal(t, White, c.Pixel(25, 25))
}

func TestCircleOutline(t *testing.T) {
	c, rec, _ := newController(t, 60, 60)
	c.SetTool(ToolCircle)

	c.PointerDown(30, 30)
	c.PointerUp(30, 45)

	assert.Greater(t, rec.count(events.TypeDraw), 8)
	assert.Equal(t, 1, rec.count(events.TypeStrokeEnd))
	assert.Equal(t, red, c.Pixel(30, 45))
	assert.Equal(t, White, c.Pixel(30, 30))
}

func TestFillEmitsWithoutStrokeEnd(t *testing.T) {
	c, rec, _ := newController(t, 20, 20)
	require.NoError(t, c.SetColor("#00ff00"))
	c.SetTool(ToolFill)

	c.PointerDown(5, 5)

	assert.Equal(t, []events.Type{events.TypeFill}, rec.types())
	assert.Equal(t, color.RGBA{G: 0xff, A: 0xff}, c.Pixel(19, 19))
	assert.Equal(t, 2, c.UndoDepth())

	var fill events.FillPayload
	require.NoError(t, json.Unmarshal(rec.all()[0], &fill))
	assert.InDelta(t, 0.25, *fill.NX, 1e-9)
	assert.Equal(t, "#00ff00", fill.Color)

	c.PointerDown(5, 5)
	assert.Len(t, rec.all(), 1, "filling with the same color changes nothing")
}

func TestColorPickerSwitchesBackToBrush(t *testing.T) {
	c, rec, _ := newController(t, 20, 20)
	require.NoError(t, c.HandleRemote([]byte(`{"type":"fill","x":1,"y":1,"color":"#0000ff"}`)))

	c.SetTool(ToolColorPicker)
	c.PointerDown(3, 3)

	assert.Equal(t, "#0000ff", c.Color())
	assert.Equal(t, ToolBrush, c.Tool())
	assert.Empty(t, rec.all())
}

func TestLocalUndo(t *testing.T) {
	c, rec, _ := newController(t, 40, 40)
	c.PointerDown(5, 5)
	c.PointerMove(30, 5)
	c.PointerUp(30, 5)

	require.True(t, c.Undo())
	assert.Equal(t, White, c.Pixel(15, 5))
	assert.Equal(t, events.TypeUndo, rec.types()[2])

	assert.False(t, c.Undo(), "initial state cannot be undone")
}

func TestUndoStackIsBounded(t *testing.T) {
	u := NewUndoStack(3)
	b := NewBuffer(4, 4)
	u.Reset(b)
	for i := 0; i < 5; i++ {
		b.set(i%4, 0, red)
		u.Push(b)
	}
	assert.Equal(t, 3, u.Len())

	_, ok := u.Undo()
	assert.True(t, ok)
	_, ok = u.Undo()
	assert.True(t, ok)
	_, ok = u.Undo()
	assert.False(t, ok)
}

func TestRemoteDrawFallsBackToPixels(t *testing.T) {
	c, _, _ := newController(t, 20, 20)
	require.NoError(t, c.HandleRemote([]byte(`{"type":"draw","x":5,"y":5,"prevX":5,"prevY":5,"color":"#000000","lineWidth":1}`)))
	assert.Equal(t, Black, c.Pixel(5, 5))
}

func TestRemoteDrawUsesLocalDimensions(t *testing.T) {
	c, _, _ := newController(t, 200, 100)
	require.NoError(t, c.HandleRemote([]byte(`{"type":"draw","x":1,"y":1,"prevX":1,"prevY":1,"nx":0.5,"ny":0.5,"nprevX":0.5,"nprevY":0.5,"color":"#000000","lineWidth":1}`)))
	assert.Equal(t, Black, c.Pixel(100, 50))
	assert.Equal(t, White, c.Pixel(1, 1))
}

func TestRemoteClearAndUndo(t *testing.T) {
	c, _, _ := newController(t, 20, 20)
	require.NoError(t, c.HandleRemote([]byte(`{"type":"fill","x":1,"y":1,"color":"#000000"}`)))
	require.NoError(t, c.HandleRemote([]byte(`{"type":"clear","drawerId":"bob"}`)))
	assert.Equal(t, White, c.Pixel(3, 3))

	require.NoError(t, c.HandleRemote([]byte(`{"type":"undo","drawerId":"bob"}`)))
	assert.Equal(t, Black, c.Pixel(3, 3))
}

func TestRemoteStrokeEndCheckpoints(t *testing.T) {
	c, _, _ := newController(t, 20, 20)
	require.NoError(t, c.HandleRemote([]byte(`{"type":"draw","x":5,"y":5,"prevX":1,"prevY":5,"color":"#000000","lineWidth":1}`)))
	require.NoError(t, c.HandleRemote([]byte(`{"type":"strokeEnd","drawerId":"bob"}`)))
	assert.Equal(t, 2, c.UndoDepth())

	require.NoError(t, c.HandleRemote([]byte(`{"type":"sync_clear","updatedAt":1}`)))
	assert.Equal(t, 1, c.UndoDepth())
	assert.Equal(t, White, c.Pixel(3, 5))
}

func TestRemoteSyncScalesSnapshot(t *testing.T) {
	src := NewBuffer(10, 10)
	src.FloodFill(0, 0, red)
	image, err := src.DataURL()
	require.NoError(t, err)

	c, _, _ := newController(t, 40, 40)
	frame, err := json.Marshal(events.SyncPayload{Type: events.TypeSync, Image: image, UpdatedAt: 1, DrawerID: "bob"})
	require.NoError(t, err)
	require.NoError(t, c.HandleRemote(frame))

	px := c.Pixel(20, 20)
	assert.Greater(t, px.R, uint8(0xf0))
	assert.Less(t, px.G, uint8(0x10))
}

func TestRemoteMalformedFrame(t *testing.T) {
	c, _, _ := newController(t, 20, 20)
	assert.Error(t, c.HandleRemote([]byte(`not json`)))
	assert.Error(t, c.HandleRemote([]byte(`{"type":"draw","color":"nope"}`)))
	assert.NoError(t, c.HandleRemote([]byte(`{"type":"joined","roomId":"R1"}`)))
}

func TestResizeRequestsSyncUnlessDrawer(t *testing.T) {
	c, rec, _ := newController(t, 20, 20)
	c.Resize(50, 30)

	w, h := c.Size()
	assert.Equal(t, 50, w)
	assert.Equal(t, 30, h)
	assert.Equal(t, []events.Type{events.TypeRequestSync}, rec.types())

	d, drec, _ := newController(t, 20, 20)
	require.NoError(t, d.HandleRemote([]byte(`{"type":"fill","x":1,"y":1,"color":"#ff0000"}`)))
	d.SetDrawer(true)
	d.Resize(40, 40)

	assert.Empty(t, drec.all())
	assert.Equal(t, red, d.Pixel(30, 30), "drawer keeps its own canvas")
}

func TestSnapshotIsDebounced(t *testing.T) {
	c, rec, clock := newController(t, 30, 30)

	stroke := func() {
		c.PointerDown(2, 2)
		c.PointerMove(20, 20)
		c.PointerUp(20, 20)
	}

	stroke()
	clock.Advance(time.Second)
	stroke()
	clock.Advance(time.Second)
	assert.Zero(t, rec.count(events.TypeSnapshot))

	clock.Advance(500 * time.Millisecond)
	require.Eventually(t, func() bool { return rec.count(events.TypeSnapshot) == 1 }, time.Second, 5*time.Millisecond)

	frames := rec.all()
	var snap events.SnapshotPayload
	require.NoError(t, json.Unmarshal(frames[len(frames)-1], &snap))
	assert.Equal(t, "alice", snap.DrawerID)

	img, err := DecodeDataURL(snap.Image)
	require.NoError(t, err)
	assert.Equal(t, 30, img.Bounds().Dx())
}

func TestReplacedSnapshotTimerStaysCancellable(t *testing.T) {
	c, rec, clock := newController(t, 30, 30)

	c.mu.Lock()
	c.scheduleSnapshot()
	replaced := c.snapshotGen
	c.scheduleSnapshot()
	c.mu.Unlock()

	// A callback from the replaced timer that was already waiting on the lock.
	c.sendSnapshot(replaced)
	assert.Zero(t, rec.count(events.TypeSnapshot))

	c.Close()
	clock.Advance(time.Minute)
	assert.Never(t, func() bool { return rec.count(events.TypeSnapshot) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.RGBA
		wantErr bool
	}{
		{in: "#fff", want: White},
		{in: "#ff0000", want: red},
		{in: "00ff0080", want: color.RGBA{G: 0xff, A: 0x80}},
		{in: "#12", wantErr: true},
		{in: "#zzzzzz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "#00ff0080", FormatColor(color.RGBA{G: 0xff, A: 0x80}))
}

func TestFloodFillStopsAtBoundary(t *testing.T) {
	b := NewBuffer(20, 20)
	b.Segments(RectOutline(5, 5, 15, 15), 1, Black)

	n := b.FloodFill(10, 10, red)
	assert.Greater(t, n, 0)
	assert.Equal(t, red, b.Pixel(10, 10))
	assert.Equal(t, White, b.Pixel(1, 1))
	assert.Equal(t, Black, b.Pixel(5, 10))
}

func TestNormalizedDrawKeepsRelativePosition(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("a draw lands at the same relative position on any surface size", prop.ForAll(
		func(w1, h1, w2, h2 int, fx, fy float64) bool {
			rec := &recorder{}
			producer, err := NewController(Config{Width: w1, Height: h1, Color: "#000000", LineWidth: 1}, rec, clockwork.NewFakeClock())
			if err != nil {
				return false
			}
			defer producer.Close()
			consumer, err := NewController(Config{Width: w2, Height: h2, LineWidth: 1}, nil, clockwork.NewFakeClock())
			if err != nil {
				return false
			}

			x := math.Min(math.Floor(fx*float64(w1)), float64(w1-1))
			y := math.Min(math.Floor(fy*float64(h1)), float64(h1-1))
			producer.PointerDown(x, y)
			producer.PointerMove(x, y)

			frames := rec.all()
			if len(frames) != 1 || consumer.HandleRemote(frames[0]) != nil {
				return false
			}

			wantX := x / float64(w1) * float64(w2)
			wantY := y / float64(h1) * float64(h2)
			for py := 0; py < h2; py++ {
				for px := 0; px < w2; px++ {
					if consumer.Pixel(px, py) == White {
						continue
					}
					if math.Abs(float64(px)-wantX) <= 1 && math.Abs(float64(py)-wantY) <= 1 {
						return true
					}
				}
			}
			return false
		},
		gen.IntRange(8, 64),
		gen.IntRange(8, 64),
		gen.IntRange(8, 64),
		gen.IntRange(8, 64),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
