package telemetry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/flight-control/fcc/internal/geo"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload string
		want    []Event
	}{
		{"mode object", "mode", `{"mode":"GUIDED"}`, []Event{ModeEvent("GUIDED")}},
		{"legacy vehicleMode", "vehicleMode", `{"mode":"LOITER"}`, []Event{ModeEvent("LOITER")}},
		{"mode string", "mode", `"AUTO"`, []Event{ModeEvent("AUTO")}},
		{"armed", "armed", ``, []Event{ArmedEvent(true)}},
		{"disarmed", "disarmed", `{}`, []Event{ArmedEvent(false)}},
		{"legacy arming", "arming", `{"arming":true}`, []Event{ArmedEvent(true)}},
		{"armedState", "armedState", `{"armed":false}`, []Event{ArmedEvent(false)}},
		{"position", "position", `{"coordinate":[35.1,139.2,12.5]}`, []Event{
			PositionEvent(geo.Coordinate{X: 35.1, Y: 139.2, Z: 12.5}),
			AltitudeEvent(12.5),
		}},
		{"legacy gpsPosition", "gpsPosition", `{"coordinate":[1,2]}`, []Event{
			PositionEvent(geo.Coordinate{X: 1, Y: 2}),
			AltitudeEvent(0),
		}},
		{"altitude", "altitude", `{"altitude":9.2}`, []Event{AltitudeEvent(9.2)}},
		{"missionSaved", "missionSaved", `null`, []Event{MissionSavedEvent()}},
		{"commandReached", "commandReached", `{"index":3}`, []Event{CommandReachedEvent(3)}},
		{"connected", "connected", ``, []Event{ConnectedEvent()}},
		{"disconnected", "disconnected", ``, []Event{DisconnectedEvent()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.event, json.RawMessage(tt.payload))
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Decode() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i].Kind != tt.want[i].Kind ||
					got[i].Position != tt.want[i].Position ||
					got[i].Altitude != tt.want[i].Altitude ||
					got[i].Mode != tt.want[i].Mode ||
					got[i].Armed != tt.want[i].Armed ||
					got[i].Index != tt.want[i].Index {
					t.Errorf("event %d = %v, want %v", i, got[i], tt.want[i])
				}
				if got[i].Name != tt.event {
					t.Errorf("event %d Name = %q, want %q", i, got[i].Name, tt.event)
				}
			}
		})
	}
}

func TestDecodeOtherKinds(t *testing.T) {
	got, err := Decode("battery", json.RawMessage(`{"voltage":12.1,"remain":80}`))
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if len(got) != 1 || got[0].Kind != KindOther || got[0].Name != "battery" {
		t.Fatalf("Decode() = %v, want one KindOther battery event", got)
	}
	if got[0].Raw["voltage"] != 12.1 {
		t.Errorf("Raw = %v", got[0].Raw)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		event   string
		payload string
	}{
		{"position", `{"coordinate":[1]}`},
		{"position", `{"coordinate":"here"}`},
		{"position", `not json`},
		{"mode", `{}`},
		{"mode", `42`},
		{"altitude", `{"height":3}`},
		{"arming", `{}`},
		{"commandReached", `{}`},
		{"commandReached", `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.event+" "+tt.payload, func(t *testing.T) {
			_, err := Decode(tt.event, json.RawMessage(tt.payload))
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("Decode() error = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestWireNames(t *testing.T) {
	got := WireNames([]Kind{KindPosition, KindAltitude, KindMode, KindArmedState, KindOther})
	want := []string{"position", "mode", "armed", "disarmed"}
	if len(got) != len(want) {
		t.Fatalf("WireNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("WireNames()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if WireNames(nil) != nil {
		t.Error("WireNames(nil) should be nil")
	}
}
