package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/tickvault/internal/model"
)

// StatusVersion is the current Status schema version.
const StatusVersion = 1

var (
	ErrNotAppendable      = errors.New("event carries no quote")
	ErrUnsupportedStatus  = errors.New("unsupported status version")
	ErrUnknownMessageKind = errors.New("unknown message kind")
)

// Message is the live pub/sub payload.
type Message struct {
	Kind       string          `json:"kind"`
	Instrument string          `json:"instrument"`
	Event      json.RawMessage `json:"event"`
}

// EncodeEvent wraps ev in a Message and marshals it.
func EncodeEvent(ev model.Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Kind(), err)
	}
	return json.Marshal(Message{
		Kind:       ev.Kind().String(),
		Instrument: ev.InstrumentKey().String(),
		Event:      body,
	})
}

// DecodeMessage parses a live payload back into a typed event.
func DecodeMessage(data []byte) (model.Event, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	var target model.Event
	var err error
	switch m.Kind {
	case model.KindTicker.String():
		var e model.TickerEvent
		err = json.Unmarshal(m.Event, &e)
		target = e
	case model.KindQuote.String():
		var e model.QuoteEvent
		err = json.Unmarshal(m.Event, &e)
		target = e
	case model.KindDepth.String():
		var e model.DepthEvent
		err = json.Unmarshal(m.Event, &e)
		target = e
	case model.KindOpenInterest.String():
		var e model.OpenInterestUpdate
		err = json.Unmarshal(m.Event, &e)
		target = e
	case model.KindPrevClose.String():
		var e model.PrevCloseUpdate
		err = json.Unmarshal(m.Event, &e)
		target = e
	case model.KindMarketStatus.String():
		var e model.MarketStatusEvent
		err = json.Unmarshal(m.Event, &e)
		target = e
	case model.KindDisconnect.String():
		var e model.DisconnectEvent
		err = json.Unmarshal(m.Event, &e)
		target = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageKind, m.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s event: %w", m.Kind, err)
	}
	return target, nil
}

// Status is the periodic health summary a feed connection publishes.
type Status struct {
	Version       int       `json:"v"`
	Source        string    `json:"source"`
	Connection    int       `json:"connection"`
	State         string    `json:"state"`
	Subscribed    int       `json:"subscribed"`
	Frames        uint64    `json:"frames"`
	DecodeErrors  uint64    `json:"decode_errors"`
	PublishErrors uint64    `json:"publish_errors"`
	AppendErrors  uint64    `json:"append_errors"`
	Reconnects    uint64    `json:"reconnects"`
	At            time.Time `json:"at"`
}

// Encode marshals s, stamping the current version.
func (s Status) Encode() ([]byte, error) {
	s.Version = StatusVersion
	return json.Marshal(s)
}

// DecodeStatus parses a status payload and rejects unknown versions.
func DecodeStatus(data []byte) (Status, error) {
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return Status{}, fmt.Errorf("unmarshal status: %w", err)
	}
	if s.Version != StatusVersion {
		return Status{}, fmt.Errorf("%w: %d", ErrUnsupportedStatus, s.Version)
	}
	return s, nil
}

// StatusChannel returns the channel statuses are published on for topic.
func StatusChannel(topic string) string {
	return topic + ".status"
}
