package model

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EventName is the wire tag of an event.
type EventName string

// Event names pushed to clients.
const (
	EventBandChange      EventName = "band_change"
	EventScoresSubmitted EventName = "scores_submitted"
	EventAdminUpdate     EventName = "admin_update"
	EventRegistered      EventName = "registered"
	EventPong            EventName = "pong"
	EventReconnect       EventName = "reconnect"
)

// AdminUpdate types.
const (
	AdminUpdateBandChange    = "band_change"
	AdminUpdateScoresUpdated = "scores_updated"
	AdminUpdateScoresDeleted = "scores_deleted"
	AdminUpdateReset         = "reset"
)

// Event is the closed set of state change notifications.
type Event interface {
	Name() EventName
	event()
}

// BandChanged reports a new active band, or none when BandID is 0.
type BandChanged struct {
	BandID int64 `json:"band_id"`
	Band   *Band `json:"band"`
}

// ScoresSubmitted reports a finalized batch.
type ScoresSubmitted struct {
	BandID  int64 `json:"band_id"`
	JudgeID int64 `json:"judge_id"`
}

// AdminUpdate asks admin panels to refresh.
type AdminUpdate struct {
	Type    string `json:"type"`
	BandID  int64  `json:"band_id,omitempty"`
	JudgeID int64  `json:"judge_id,omitempty"`
}

func (BandChanged) Name() EventName     { return EventBandChange }
func (ScoresSubmitted) Name() EventName { return EventScoresSubmitted }
func (AdminUpdate) Name() EventName     { return EventAdminUpdate }

func (BandChanged) event()     {}
func (ScoresSubmitted) event() {}
func (AdminUpdate) event()     {}

// Envelope is the wire form `{id?, event, data}`.
type Envelope struct {
	ID    string          `json:"id,omitempty"`
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope encodes ev with a fresh id.
func NewEnvelope(ev Event) (Envelope, error) {
	env, err := Encode(ev)
	if err != nil {
		return Envelope{}, err
	}
	env.ID = uuid.NewString()
	return env, nil
}

// Encode wraps ev without an id.
func Encode(ev Event) (Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return Envelope{Event: ev.Name(), Data: data}, nil
}

// Decode returns the typed event carried by the envelope.
func (e Envelope) Decode() (Event, error) {
	var (
		ev  Event
		err error
	)
	switch e.Event {
	case EventBandChange:
		var v BandChanged
		err = unmarshalData(e.Data, &v)
		ev = v
	case EventScoresSubmitted:
		var v ScoresSubmitted
		err = unmarshalData(e.Data, &v)
		ev = v
	case EventAdminUpdate:
		var v AdminUpdate
		err = unmarshalData(e.Data, &v)
		if err == nil && v.Type == "" {
			err = fmt.Errorf("admin_update requires a type")
		}
		ev = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Event)
	}
	if err != nil {
		return nil, WrapKind("model.Decode", ErrValidation, err)
	}
	return ev, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
