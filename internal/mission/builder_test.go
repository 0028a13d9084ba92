package mission

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/flight-control/fcc/internal/geo"
)

func TestBuildLinearMission(t *testing.T) {
	ref := geo.Coordinate{X: 35.6, Y: 139.7, Z: 0}

	plan, err := BuildLinearMission(ref, 10, 30, geo.Offset{X: 0.0003, Y: 0})
	if err != nil {
		t.Fatalf("BuildLinearMission() failed: %v", err)
	}

	want := []Item{
		Takeoff{Altitude: 10},
		Waypoint{Coordinate: geo.Coordinate{X: 0, Y: 0, Z: 30}},
		Waypoint{Coordinate: geo.Coordinate{X: ref.X + 0.0003, Y: ref.Y, Z: 0}},
		Land{},
	}
	if !reflect.DeepEqual(plan.Items(), want) {
		t.Errorf("Items() = %#v, want %#v", plan.Items(), want)
	}
}

func TestBuildLoopMission(t *testing.T) {
	ref := geo.Coordinate{X: 1, Y: 2, Z: 0}

	plan, err := BuildLoopMission(ref, 10, 30, geo.Offset{X: 0.0003}, 10, 2)
	if err != nil {
		t.Fatalf("BuildLoopMission() failed: %v", err)
	}

	wantKinds := []ItemKind{KindTakeoff, KindWaypoint, KindWaypoint, KindCircle, KindLand}
	if !reflect.DeepEqual(plan.Kinds(), wantKinds) {
		t.Fatalf("Kinds() = %v, want %v", plan.Kinds(), wantKinds)
	}

	circle, ok := plan.At(plan.Len() - 2).(Circle)
	if !ok {
		t.Fatalf("item before Land is %T, want Circle", plan.At(plan.Len()-2))
	}
	if circle.Radius != 10 || circle.Turns != 2 {
		t.Errorf("Circle = radius %v turns %v, want radius 10 turns 2", circle.Radius, circle.Turns)
	}
	if circle.Coordinate == nil || *circle.Coordinate != Goal(ref, geo.Offset{X: 0.0003}) {
		t.Errorf("Circle center = %v, want goal", circle.Coordinate)
	}
}

func TestBuildMissionInvalidParameters(t *testing.T) {
	ref := geo.Coordinate{}
	off := geo.Offset{X: 1}

	tests := []struct {
		name  string
		build func() (Plan, error)
	}{
		{"zero radius", func() (Plan, error) { return BuildLoopMission(ref, 10, 30, off, 0, 2) }},
		{"negative radius", func() (Plan, error) { return BuildLoopMission(ref, 10, 30, off, -5, 2) }},
		{"NaN radius", func() (Plan, error) { return BuildLoopMission(ref, 10, 30, off, math.NaN(), 2) }},
		{"zero turns", func() (Plan, error) { return BuildLoopMission(ref, 10, 30, off, 10, 0) }},
		{"negative turns", func() (Plan, error) { return BuildLoopMission(ref, 10, 30, off, 10, -1) }},
		{"NaN offset", func() (Plan, error) { return BuildLinearMission(ref, 10, 30, geo.Offset{X: math.NaN()}) }},
		{"infinite reference", func() (Plan, error) {
			return BuildLinearMission(geo.Coordinate{X: math.Inf(1)}, 10, 30, off)
		}},
		{"zero takeoff", func() (Plan, error) { return BuildLinearMission(ref, 0, 30, off) }},
		{"negative cruise", func() (Plan, error) { return BuildLinearMission(ref, 10, -30, off) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := tt.build()
			if !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("error = %v, want ErrInvalidParameter", err)
			}
			if plan.Len() != 0 {
				t.Errorf("Len() = %d, want empty plan on error", plan.Len())
			}
		})
	}
}

func TestPlanIsImmutable(t *testing.T) {
	items := []Item{Takeoff{Altitude: 5}, Land{}}
	plan := NewPlan(items...)

	items[0] = Land{}
	got := plan.Items()
	got[1] = Takeoff{}

	if plan.At(0) != (Takeoff{Altitude: 5}) {
		t.Errorf("At(0) = %#v after mutating source slice", plan.At(0))
	}
	if _, ok := plan.At(1).(Land); !ok {
		t.Errorf("At(1) = %#v after mutating Items() copy", plan.At(1))
	}
	if plan.At(2) != nil || plan.At(-1) != nil {
		t.Error("At() out of range should return nil")
	}
}

func TestEncodeDecodeThroughJSON(t *testing.T) {
	center := geo.Coordinate{X: 1, Y: 2, Z: 0}
	plan := NewPlan(
		Takeoff{Altitude: 10},
		ChangeSpeed{Speed: 4},
		SplineWaypoint{Coordinate: geo.Coordinate{X: 1, Y: 2, Z: 20}, Delay: 3},
		Circle{Coordinate: &center, Radius: 25, Turns: 2},
		YawCondition{Angle: 90, AngularSpeed: 10, Relative: true},
		DoJump{Index: 2, RepeatCount: 3},
		ReturnToLaunch{Altitude: 15},
		Land{},
	)

	// Go through JSON so numbers arrive as float64, as they do from the hub.
	data, err := json.Marshal(plan.Encode())
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}

	if raw[0]["type"] != "takeoff" || raw[3]["type"] != "circle" {
		t.Errorf("wire types = %v, %v", raw[0]["type"], raw[3]["type"])
	}
	if _, ok := raw[7]["coordinate"]; ok {
		t.Error("Land without coordinate should omit the coordinate key")
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if !reflect.DeepEqual(decoded.Items(), plan.Items()) {
		t.Errorf("Decode() = %#v, want %#v", decoded.Items(), plan.Items())
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []map[string]interface{}
	}{
		{"unknown type", []map[string]interface{}{{"type": "teleport"}}},
		{"waypoint without coordinate", []map[string]interface{}{{"type": "waypoint"}}},
		{"bad coordinate", []map[string]interface{}{{"type": "waypoint", "coordinate": []interface{}{1.0}}}},
		{"wrong field type", []map[string]interface{}{{"type": "takeoff", "altitude": "high"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.raw); err == nil {
				t.Error("Decode() expected error")
			}
		})
	}
}
