package mission

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/flight-control/fcc/internal/geo"
)

// Wire keys understood by the actor's saveMission.
const (
	keyType         = "type"
	keyCoordinate   = "coordinate"
	keyDelay        = "delay"
	keySpeed        = "speed"
	keyAltitude     = "altitude"
	keyRadius       = "radius"
	keyTurns        = "turns"
	keyAngle        = "angle"
	keyAngularSpeed = "angularSpeed"
	keyRelative     = "relative"
	keyRepeatCount  = "repeatCount"
	keyIndex        = "index"
)

// Encode converts the plan to the list of maps sent with saveMission.
func (p Plan) Encode() []map[string]interface{} {
	out := make([]map[string]interface{}, len(p.items))
	for i, item := range p.items {
		m := item.encode()
		m[keyType] = string(item.Kind())
		out[i] = m
	}
	return out
}

func (t Takeoff) encode() map[string]interface{} {
	return map[string]interface{}{keyAltitude: t.Altitude}
}

func (w Waypoint) encode() map[string]interface{} {
	return map[string]interface{}{keyCoordinate: w.Coordinate.Array(), keyDelay: w.Delay}
}

func (w SplineWaypoint) encode() map[string]interface{} {
	return map[string]interface{}{keyCoordinate: w.Coordinate.Array(), keyDelay: w.Delay}
}

func (c ChangeSpeed) encode() map[string]interface{} {
	return map[string]interface{}{keySpeed: c.Speed}
}

func (r ReturnToLaunch) encode() map[string]interface{} {
	return map[string]interface{}{keyAltitude: r.Altitude}
}

func (l Land) encode() map[string]interface{} {
	m := map[string]interface{}{}
	if l.Coordinate != nil {
		m[keyCoordinate] = l.Coordinate.Array()
	}
	return m
}

func (c Circle) encode() map[string]interface{} {
	m := map[string]interface{}{keyRadius: c.Radius, keyTurns: c.Turns}
	if c.Coordinate != nil {
		m[keyCoordinate] = c.Coordinate.Array()
	}
	return m
}

func (y YawCondition) encode() map[string]interface{} {
	return map[string]interface{}{keyAngle: y.Angle, keyAngularSpeed: y.AngularSpeed, keyRelative: y.Relative}
}

func (d DoJump) encode() map[string]interface{} {
	return map[string]interface{}{keyRepeatCount: d.RepeatCount, keyIndex: d.Index}
}

// wireItem is the union of all item fields as they appear on the wire.
type wireItem struct {
	Type         string    `mapstructure:"type"`
	Coordinate   []float64 `mapstructure:"coordinate"`
	Delay        float64   `mapstructure:"delay"`
	Speed        float64   `mapstructure:"speed"`
	Altitude     float64   `mapstructure:"altitude"`
	Radius       float64   `mapstructure:"radius"`
	Turns        int       `mapstructure:"turns"`
	Angle        float64   `mapstructure:"angle"`
	AngularSpeed float64   `mapstructure:"angularSpeed"`
	Relative     bool      `mapstructure:"relative"`
	RepeatCount  int       `mapstructure:"repeatCount"`
	Index        int       `mapstructure:"index"`
}

// Decode parses the wire form produced by Encode. Values decoded from JSON
// (float64 numbers, []interface{} coordinates) are accepted.
func Decode(raw []map[string]interface{}) (Plan, error) {
	items := make([]Item, 0, len(raw))
	for i, m := range raw {
		var w wireItem
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &w,
		})
		if err != nil {
			return Plan{}, err
		}
		if err := dec.Decode(m); err != nil {
			return Plan{}, fmt.Errorf("mission item %d: %w", i, err)
		}
		item, err := w.item()
		if err != nil {
			return Plan{}, fmt.Errorf("mission item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return NewPlan(items...), nil
}

func (w wireItem) item() (Item, error) {
	switch ItemKind(w.Type) {
	case KindTakeoff:
		return Takeoff{Altitude: w.Altitude}, nil
	case KindWaypoint:
		c, err := geo.FromArray(w.Coordinate)
		if err != nil {
			return nil, err
		}
		return Waypoint{Coordinate: c, Delay: w.Delay}, nil
	case KindSplineWaypoint:
		c, err := geo.FromArray(w.Coordinate)
		if err != nil {
			return nil, err
		}
		return SplineWaypoint{Coordinate: c, Delay: w.Delay}, nil
	case KindChangeSpeed:
		return ChangeSpeed{Speed: w.Speed}, nil
	case KindReturnToLaunch:
		return ReturnToLaunch{Altitude: w.Altitude}, nil
	case KindLand:
		c, err := w.optionalCoordinate()
		if err != nil {
			return nil, err
		}
		return Land{Coordinate: c}, nil
	case KindCircle:
		c, err := w.optionalCoordinate()
		if err != nil {
			return nil, err
		}
		return Circle{Coordinate: c, Radius: w.Radius, Turns: w.Turns}, nil
	case KindYawCondition:
		return YawCondition{Angle: w.Angle, AngularSpeed: w.AngularSpeed, Relative: w.Relative}, nil
	case KindDoJump:
		return DoJump{Index: w.Index, RepeatCount: w.RepeatCount}, nil
	default:
		return nil, fmt.Errorf("unknown mission item type %q", w.Type)
	}
}

func (w wireItem) optionalCoordinate() (*geo.Coordinate, error) {
	if len(w.Coordinate) == 0 {
		return nil, nil
	}
	c, err := geo.FromArray(w.Coordinate)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
