package telemetry

import (
	"fmt"
	"time"

	"github.com/flight-control/fcc/internal/geo"
)

// Kind is the closed set of event kinds the flight controller reacts to.
type Kind uint8

const (
	KindOther Kind = iota
	KindPosition
	KindAltitude
	KindMode
	KindArmedState
	KindMissionSaved
	KindCommandReached
	KindConnected
	KindDisconnected
)

var kindNames = map[Kind]string{
	KindOther:          "other",
	KindPosition:       "position",
	KindAltitude:       "altitude",
	KindMode:           "mode",
	KindArmedState:     "armedState",
	KindMissionSaved:   "missionSaved",
	KindCommandReached: "commandReached",
	KindConnected:      "connected",
	KindDisconnected:   "disconnected",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Wire event names emitted by the actor.
const (
	WireConnected      = "connected"
	WireDisconnected   = "disconnected"
	WireType           = "type"
	WireMode           = "mode"
	WireArmed          = "armed"
	WireDisarmed       = "disarmed"
	WireSpeed          = "speed"
	WireBattery        = "battery"
	WireHome           = "home"
	WirePosition       = "position"
	WireMission        = "mission"
	WireMissionSaved   = "missionSaved"
	WireCommandReached = "commandReached"

	// Names used by older actor releases; accepted on input only.
	WireVehicleMode = "vehicleMode"
	WireGPSPosition = "gpsPosition"
	WireArming      = "arming"
	WireArmedState  = "armedState"
	WireAltitude    = "altitude"
)

// wireNames lists the actor events that must be enabled to observe a kind.
var wireNames = map[Kind][]string{
	KindPosition:       {WirePosition},
	KindAltitude:       {WirePosition},
	KindMode:           {WireMode},
	KindArmedState:     {WireArmed, WireDisarmed},
	KindMissionSaved:   {WireMissionSaved},
	KindCommandReached: {WireCommandReached},
	KindConnected:      {WireConnected},
	KindDisconnected:   {WireDisconnected},
}

// WireNames returns the deduplicated actor event names for kinds, in a
// stable order. KindOther has no wire names.
func WireNames(kinds []Kind) []string {
	seen := make(map[string]bool)
	var names []string
	for _, k := range kinds {
		for _, name := range wireNames[k] {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// Event is a tagged union; only the field matching Kind is meaningful.
type Event struct {
	Kind Kind

	Position geo.Coordinate // KindPosition
	Altitude float64        // KindAltitude
	Mode     string         // KindMode
	Armed    bool           // KindArmedState
	Index    int            // KindCommandReached

	// Name is the wire name the event arrived under.
	Name string
	// Raw is the decoded payload of KindOther events.
	Raw map[string]interface{}

	Received time.Time
}

func PositionEvent(c geo.Coordinate) Event {
	return Event{Kind: KindPosition, Position: c, Name: WirePosition}
}
func AltitudeEvent(alt float64) Event {
	return Event{Kind: KindAltitude, Altitude: alt, Name: WireAltitude}
}
func ModeEvent(mode string) Event { return Event{Kind: KindMode, Mode: mode, Name: WireMode} }
func MissionSavedEvent() Event    { return Event{Kind: KindMissionSaved, Name: WireMissionSaved} }
func CommandReachedEvent(index int) Event {
	return Event{Kind: KindCommandReached, Index: index, Name: WireCommandReached}
}
func ConnectedEvent() Event    { return Event{Kind: KindConnected, Name: WireConnected} }
func DisconnectedEvent() Event { return Event{Kind: KindDisconnected, Name: WireDisconnected} }

// ArmedEvent reports the armed state.
func ArmedEvent(armed bool) Event {
	name := WireDisarmed
	if armed {
		name = WireArmed
	}
	return Event{Kind: KindArmedState, Armed: armed, Name: name}
}

func (e Event) String() string {
	switch e.Kind {
	case KindPosition:
		return fmt.Sprintf("position%v", e.Position)
	case KindAltitude:
		return fmt.Sprintf("altitude(%.2f)", e.Altitude)
	case KindMode:
		return fmt.Sprintf("mode(%s)", e.Mode)
	case KindArmedState:
		return fmt.Sprintf("armedState(%t)", e.Armed)
	case KindCommandReached:
		return fmt.Sprintf("commandReached(%d)", e.Index)
	case KindOther:
		return fmt.Sprintf("%s%v", e.Name, e.Raw)
	default:
		return e.Kind.String()
	}
}
