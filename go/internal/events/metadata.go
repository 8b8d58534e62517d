package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Metadata is the free-form context attached to an archived canvas. Only word, round,
// drawerId and turnId have meaning to the relay; everything else is passed through.
type Metadata map[string]any

const (
	MetaWord     = "word"
	MetaRound    = "round"
	MetaDrawerID = "drawerId"
	MetaTurnID   = "turnId"
	MetaRoomID   = "roomId"
)

// DecodeFields decodes a frame into a loosely typed field map. Numbers keep their literal
// form, so ids and rounds read the same whether a client sent them as numbers or strings.
func DecodeFields(data []byte) (Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m Metadata
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return m, nil
}

// Clone returns a shallow copy so callers can enrich without touching the request.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Word returns the word field, or "" when absent.
func (m Metadata) Word() string {
	s, _ := m.str(MetaWord)
	return s
}

// Round returns the round field. Numbers and numeric strings are both accepted.
func (m Metadata) Round() (int, bool) {
	v, ok := m[MetaRound]
	if !ok || v == nil {
		return 0, false
	}
	switch r := v.(type) {
	case float64:
		return int(r), true
	case int:
		return r, true
	case int64:
		return int(r), true
	case json.Number:
		n, err := r.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(r))
		return n, err == nil
	}
	return 0, false
}

// DrawerID returns the drawerId field. Numeric ids are formatted as strings.
func (m Metadata) DrawerID() (string, bool) {
	return m.str(MetaDrawerID)
}

// TurnID returns the turnId field.
func (m Metadata) TurnID() (string, bool) {
	return m.str(MetaTurnID)
}

// RoomID returns the roomId field.
func (m Metadata) RoomID() (string, bool) {
	return m.str(MetaRoomID)
}

// Field returns any scalar field as a string.
func (m Metadata) Field(key string) (string, bool) {
	return m.str(key)
}

func (m Metadata) str(key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return "", false
		}
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case json.Number:
		return s.String(), true
	}
	return "", false
}
