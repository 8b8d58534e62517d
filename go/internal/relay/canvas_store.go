package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CanvasKind tags a room canvas as blank or holding a snapshot.
type CanvasKind string

const (
	CanvasBlank    CanvasKind = "blank"
	CanvasSnapshot CanvasKind = "snapshot"
)

// CanvasState is the latest known canvas of a room, used only for catch-up.
type CanvasState struct {
	Kind       CanvasKind `json:"kind"`
	Image      string     `json:"image,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ProducerID string     `json:"producerId"`
}

func BlankCanvas(producerID string, at time.Time) CanvasState {
	return CanvasState{Kind: CanvasBlank, UpdatedAt: at, ProducerID: producerID}
}

func SnapshotCanvas(image, producerID string, at time.Time) CanvasState {
	return CanvasState{Kind: CanvasSnapshot, Image: image, UpdatedAt: at, ProducerID: producerID}
}

// CanvasStore keeps exactly one state per room. Entries never expire.
type CanvasStore interface {
	Get(ctx context.Context, roomID string) (CanvasState, bool, error)
	Put(ctx context.Context, roomID string, state CanvasState) error
	// PutIfAbsent stores state only when the room has none and returns whatever is current.
	PutIfAbsent(ctx context.Context, roomID string, state CanvasState) (CanvasState, error)
}

// MemoryCanvasStore is owned by the relay loop and is not safe for concurrent use.
type MemoryCanvasStore struct {
	rooms map[string]CanvasState
}

func NewMemoryCanvasStore() *MemoryCanvasStore {
	return &MemoryCanvasStore{rooms: make(map[string]CanvasState)}
}

func (m *MemoryCanvasStore) Get(_ context.Context, roomID string) (CanvasState, bool, error) {
	s, ok := m.rooms[roomID]
	return s, ok, nil
}

func (m *MemoryCanvasStore) Put(_ context.Context, roomID string, state CanvasState) error {
	m.rooms[roomID] = state
	return nil
}

func (m *MemoryCanvasStore) PutIfAbsent(_ context.Context, roomID string, state CanvasState) (CanvasState, error) {
	if cur, ok := m.rooms[roomID]; ok {
		return cur, nil
	}
	m.rooms[roomID] = state
	return state, nil
}

const canvasKeyPrefix = "doodle:canvas:" // doodle:canvas:{room_id}

// RedisCanvasStore shares room canvases between relay instances.
type RedisCanvasStore struct {
	client *redis.Client
}

func NewRedisCanvasStore(client *redis.Client) *RedisCanvasStore {
	return &RedisCanvasStore{client: client}
}

func (r *RedisCanvasStore) key(roomID string) string {
	return canvasKeyPrefix + roomID
}

func (r *RedisCanvasStore) Get(ctx context.Context, roomID string) (CanvasState, bool, error) {
	data, err := r.client.Get(ctx, r.key(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CanvasState{}, false, nil
	}
	if err != nil {
		return CanvasState{}, false, fmt.Errorf("failed to get canvas: %w", err)
	}

	var state CanvasState
	if err := json.Unmarshal(data, &state); err != nil {
		return CanvasState{}, false, fmt.Errorf("failed to decode canvas: %w", err)
	}
	return state, true, nil
}

func (r *RedisCanvasStore) Put(ctx context.Context, roomID string, state CanvasState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode canvas: %w", err)
	}
	if err := r.client.Set(ctx, r.key(roomID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store canvas: %w", err)
	}
	return nil
}

func (r *RedisCanvasStore) PutIfAbsent(ctx context.Context, roomID string, state CanvasState) (CanvasState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return CanvasState{}, fmt.Errorf("failed to encode canvas: %w", err)
	}

	set, err := r.client.SetNX(ctx, r.key(roomID), data, 0).Result()
	if err != nil {
		return CanvasState{}, fmt.Errorf("failed to init canvas: %w", err)
	}
	if set {
		return state, nil
	}

	cur, ok, err := r.Get(ctx, roomID)
	if err != nil {
		return CanvasState{}, err
	}
	if !ok {
		// deleted between SETNX and GET
		return state, r.Put(ctx, roomID, state)
	}
	return cur, nil
}
