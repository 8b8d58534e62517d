package ledger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/doodlegame/doodle/go/internal/turnclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu       sync.Mutex
	words    []ChooseWordRequest
	advanced []string
}

func (f *fakeLedger) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(ChooseWordProcedure, connect.NewUnaryHandler(ChooseWordProcedure,
		func(ctx context.Context, req *connect.Request[ChooseWordRequest]) (*connect.Response[ChooseWordResponse], error) {
			if req.Msg.Word == "" {
				return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("word is required"))
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			f.words = append(f.words, *req.Msg)
			return connect.NewResponse(&ChooseWordResponse{Accepted: true}), nil
		},
		connect.WithCodec(jsonCodec{}),
	))
	mux.Handle(AdvanceDrawerProcedure, connect.NewUnaryHandler(AdvanceDrawerProcedure,
		func(ctx context.Context, req *connect.Request[AdvanceDrawerRequest]) (*connect.Response[AdvanceDrawerResponse], error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.advanced = append(f.advanced, req.Msg.RoomID)
			return connect.NewResponse(&AdvanceDrawerResponse{DrawerIndex: len(f.advanced)}), nil
		},
		connect.WithCodec(jsonCodec{}),
	))
	return mux
}

func TestClientCallsLedger(t *testing.T) {
	ledger := &fakeLedger{}
	srv := httptest.NewServer(ledger.routes())
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL+"/")
	ctx := context.Background()

	require.NoError(t, client.SubmitWord(ctx, "R1", "apple"))
	require.NoError(t, client.AdvanceDrawer(ctx, "R1"))

	assert.Equal(t, []ChooseWordRequest{{RoomID: "R1", Word: "apple"}}, ledger.words)
	assert.Equal(t, []string{"R1"}, ledger.advanced)

	err := client.SubmitWord(ctx, "R1", "")
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestClientDrivesReconciler(t *testing.T) {
	ledger := &fakeLedger{}
	srv := httptest.NewServer(ledger.routes())
	defer srv.Close()

	r := turnclock.NewReconciler(turnclock.Config{IsHost: true}, NewClient(srv.Client(), srv.URL), nil)
	defer r.Stop()

	wordAt := time.Now().Add(-2 * turnclock.DefaultRoundDuration)
	r.Observe(turnclock.Observation{RoomID: "R9", Phase: turnclock.PhaseDrawing, WordChosenAt: &wordAt})

	assert.Eventually(t, func() bool {
		ledger.mu.Lock()
		defer ledger.mu.Unlock()
		return len(ledger.advanced) == 1 && ledger.advanced[0] == "R9"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDecodeObservation(t *testing.T) {
	data := []byte(`{
		"eventId": "e1",
		"eventType": "TurnPhaseChanged",
		"roomId": "R1",
		"timestamp": "2026-03-01T12:00:00Z",
		"payload": {
			"phase": "WaitingForWord",
			"round": 2,
			"drawerIndex": 1,
			"drawerId": "alice",
			"drawerChosenAt": 1772366400000,
			"wordChosenAt": null,
			"wordOptions": ["apple", "boat"],
			"roundDurationSec": 60
		}
	}`)

	obs, ok, err := DecodeObservation(data, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "R1", obs.RoomID)
	assert.Equal(t, turnclock.PhaseWaitingForWord, obs.Phase)
	assert.Equal(t, 2, obs.Round)
	assert.True(t, obs.LocalIsDrawer)
	assert.Equal(t, time.Minute, obs.RoundDuration)
	require.NotNil(t, obs.DrawerChosenAt)
	assert.True(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Equal(*obs.DrawerChosenAt))
	assert.Nil(t, obs.WordChosenAt)
	assert.True(t, obs.WaitingForWord())

	obs, _, err = DecodeObservation(data, "bob")
	require.NoError(t, err)
	assert.False(t, obs.LocalIsDrawer)
}

func TestDecodeObservationSkipsOtherEvents(t *testing.T) {
	_, ok, err := DecodeObservation([]byte(`{"eventType":"ChatPosted","roomId":"R1","payload":{}}`), "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = DecodeObservation([]byte(`{`), "alice")
	assert.Error(t, err)
}

func TestDecodeObservationUnparseableTimestamp(t *testing.T) {
	obs, ok, err := DecodeObservation([]byte(`{"eventType":"TurnPhaseChanged","roomId":"R1","payload":{"phase":"Drawing","wordChosenAt":"soon"}}`), "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, obs.WordChosenAt)
	assert.False(t, obs.Drawing(), "nothing to schedule yet")
}
