package event

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec serializes events for transport and durable storage.
type Codec interface {
	// Name identifies the codec ("json", "cbor").
	Name() string
	Marshal(evt Event) ([]byte, error)
	Unmarshal(data []byte) (Event, error)
}

// CodecByName returns the codec registered under name. An empty name
// selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec encodes events as JSON. It is the default wire format.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// Marshal implements Codec.
func (JSONCodec) Marshal(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// jsonWire mirrors Event with the payload left undecoded so the domain tag
// can pick the concrete payload type.
type jsonWire struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Domain    Domain          `json:"domain"`
	Action    Action          `json:"action"`
	Timestamp int64           `json:"timestamp"`
	SessionID string          `json:"sessionId"`
	TenantID  string          `json:"tenantId"`
	UserID    string          `json:"userId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w jsonWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var payload Payload
	if len(w.Payload) > 0 && string(w.Payload) != "null" {
		p, err := decodePayload(w.Domain, w.Payload, json.Unmarshal)
		if err != nil {
			return err
		}
		payload = p
	}
	*e = Event{
		ID:        w.ID,
		Type:      w.Type,
		Domain:    w.Domain,
		Action:    w.Action,
		Timestamp: w.Timestamp,
		SessionID: w.SessionID,
		TenantID:  w.TenantID,
		UserID:    w.UserID,
		Payload:   payload,
		Metadata:  w.Metadata,
	}
	return nil
}

// CBORCodec encodes events as CBOR.
type CBORCodec struct{}

// cborDecMode decodes nested maps as map[string]any so payloads stay
// JSON-compatible after a CBOR round trip.
var cborDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

type cborWire struct {
	ID        string          `cbor:"id"`
	Type      string          `cbor:"type"`
	Domain    Domain          `cbor:"domain"`
	Action    Action          `cbor:"action"`
	Timestamp int64           `cbor:"timestamp"`
	SessionID string          `cbor:"sessionId"`
	TenantID  string          `cbor:"tenantId"`
	UserID    string          `cbor:"userId,omitempty"`
	Payload   cbor.RawMessage `cbor:"payload"`
	Metadata  map[string]any  `cbor:"metadata,omitempty"`
}

// Name implements Codec.
func (CBORCodec) Name() string { return "cbor" }

// Marshal implements Codec.
func (CBORCodec) Marshal(evt Event) ([]byte, error) {
	var payload cbor.RawMessage
	if evt.Payload != nil {
		raw, err := cbor.Marshal(evt.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", evt.Domain, err)
		}
		payload = raw
	}
	return cbor.Marshal(cborWire{
		ID:        evt.ID,
		Type:      evt.Type,
		Domain:    evt.Domain,
		Action:    evt.Action,
		Timestamp: evt.Timestamp,
		SessionID: evt.SessionID,
		TenantID:  evt.TenantID,
		UserID:    evt.UserID,
		Payload:   payload,
		Metadata:  evt.Metadata,
	})
}

// Unmarshal implements Codec.
func (CBORCodec) Unmarshal(data []byte) (Event, error) {
	var w cborWire
	if err := cborDecMode.Unmarshal(data, &w); err != nil {
		return Event{}, err
	}
	var payload Payload
	if len(w.Payload) > 0 {
		p, err := decodePayload(w.Domain, w.Payload, cborDecMode.Unmarshal)
		if err != nil {
			return Event{}, err
		}
		payload = p
	}
	return Event{
		ID:        w.ID,
		Type:      w.Type,
		Domain:    w.Domain,
		Action:    w.Action,
		Timestamp: w.Timestamp,
		SessionID: w.SessionID,
		TenantID:  w.TenantID,
		UserID:    w.UserID,
		Payload:   payload,
		Metadata:  w.Metadata,
	}, nil
}
