package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/flight-control/fcc/internal/geo"
)

// ErrMalformedPayload marks an event whose payload could not be decoded.
var ErrMalformedPayload = errors.New("MALFORMED_PAYLOAD")

type modePayload struct {
	Mode string `mapstructure:"mode"`
}

type coordinatePayload struct {
	Coordinate []float64 `mapstructure:"coordinate"`
}

type altitudePayload struct {
	Altitude *float64 `mapstructure:"altitude"`
}

type armingPayload struct {
	Arming *bool `mapstructure:"arming"`
	Armed  *bool `mapstructure:"armed"`
}

type indexPayload struct {
	Index *int `mapstructure:"index"`
}

// Decode converts one wire event into typed events. A position payload
// yields a position event followed by an altitude event. Unknown names
// decode to a single KindOther event.
func Decode(name string, raw json.RawMessage) ([]Event, error) {
	var payload interface{}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
		}
	}

	events, err := decodePayload(name, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
	}
	for i := range events {
		events[i].Name = name
	}
	return events, nil
}

func decodePayload(name string, payload interface{}) ([]Event, error) {
	switch name {
	case WireConnected:
		return []Event{ConnectedEvent()}, nil
	case WireDisconnected:
		return []Event{DisconnectedEvent()}, nil
	case WireArmed:
		return []Event{ArmedEvent(true)}, nil
	case WireDisarmed:
		return []Event{ArmedEvent(false)}, nil
	case WireMissionSaved:
		return []Event{MissionSavedEvent()}, nil

	case WireMode, WireVehicleMode:
		if s, ok := payload.(string); ok {
			return []Event{ModeEvent(s)}, nil
		}
		var p modePayload
		if err := decodeInto(payload, &p); err != nil {
			return nil, err
		}
		if p.Mode == "" {
			return nil, errors.New("missing mode")
		}
		return []Event{ModeEvent(p.Mode)}, nil

	case WirePosition, WireGPSPosition:
		var p coordinatePayload
		if err := decodeInto(payload, &p); err != nil {
			return nil, err
		}
		c, err := geo.FromArray(p.Coordinate)
		if err != nil {
			return nil, err
		}
		return []Event{PositionEvent(c), AltitudeEvent(c.Z)}, nil

	case WireAltitude:
		var p altitudePayload
		if err := decodeInto(payload, &p); err != nil {
			return nil, err
		}
		if p.Altitude == nil {
			return nil, errors.New("missing altitude")
		}
		return []Event{AltitudeEvent(*p.Altitude)}, nil

	case WireArming, WireArmedState:
		var p armingPayload
		if err := decodeInto(payload, &p); err != nil {
			return nil, err
		}
		switch {
		case p.Arming != nil:
			return []Event{ArmedEvent(*p.Arming)}, nil
		case p.Armed != nil:
			return []Event{ArmedEvent(*p.Armed)}, nil
		default:
			return nil, errors.New("missing armed flag")
		}

	case WireCommandReached:
		var p indexPayload
		if err := decodeInto(payload, &p); err != nil {
			return nil, err
		}
		if p.Index == nil {
			return nil, errors.New("missing index")
		}
		return []Event{CommandReachedEvent(*p.Index)}, nil

	default:
		raw, _ := payload.(map[string]interface{})
		return []Event{{Kind: KindOther, Name: name, Raw: raw}}, nil
	}
}

func decodeInto(payload, out interface{}) error {
	if payload == nil {
		return errors.New("empty payload")
	}
	if _, ok := payload.(map[string]interface{}); !ok {
		return fmt.Errorf("payload is %T, want object", payload)
	}
	return mapstructure.Decode(payload, out)
}
