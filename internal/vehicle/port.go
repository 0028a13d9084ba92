package vehicle

import (
	"context"
	"fmt"
	"strings"

	"github.com/flight-control/fcc/internal/mission"
)

// TransportKind selects how the actor reaches the flight controller.
type TransportKind string

const (
	// TransportUDP takes a "host:port" address.
	TransportUDP TransportKind = "udp"
	// TransportUSB takes a baud rate as address.
	TransportUSB TransportKind = "usb"
)

// ParseTransportKind accepts either case ("udp", "UDP").
func ParseTransportKind(s string) (TransportKind, error) {
	switch k := TransportKind(strings.ToLower(strings.TrimSpace(s))); k {
	case TransportUDP, TransportUSB:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown transport kind %q", ErrRejected, s)
	}
}

// Wire names of the actor methods. They double as the Command field of
// CommandError.
const (
	CmdConnect              = "connect"
	CmdDisconnect           = "disconnect"
	CmdSetMode              = "setMode"
	CmdArm                  = "arm"
	CmdTakeoff              = "takeoff"
	CmdClimbTo              = "climbTo"
	CmdGoTo                 = "goTo"
	CmdLand                 = "land"
	CmdStartGimbalControl   = "startGimbalControl"
	CmdStopGimbalControl    = "stopGimbalControl"
	CmdSetGimbalOrientation = "setGimbalOrientation"
	CmdStartVideoRecording  = "startVideoRecording"
	CmdStopVideoRecording   = "stopVideoRecording"
	CmdSaveMission          = "saveMission"
	CmdStartMission         = "startMission"
	CmdEnableEvents         = "enableEvents"
	CmdDisableEvents        = "disableEvents"
)

// Port is the command surface of a remote vehicle actor. Each call is a
// request that resolves once the actor acknowledges it; success says
// nothing about the physical effect, which is observed through telemetry.
type Port interface {
	// Connect links the actor to the flight controller.
	Connect(ctx context.Context, kind TransportKind, address string) error

	// Disconnect drops the flight controller link.
	Disconnect(ctx context.Context) error

	// SetMode requests a flight mode such as "GUIDED".
	SetMode(ctx context.Context, mode string) error

	Arm(ctx context.Context, arm bool) error
	Takeoff(ctx context.Context, altitude float64) error

	// ClimbTo and GoTo may be dropped by the vehicle and are safe to resend.
	ClimbTo(ctx context.Context, altitude float64) error
	GoTo(ctx context.Context, x, y float64) error

	Land(ctx context.Context) error

	StartGimbalControl(ctx context.Context) error
	StopGimbalControl(ctx context.Context) error
	SetGimbalOrientation(ctx context.Context, pitch, yaw, roll float64) error

	StartVideoRecording(ctx context.Context) error
	StopVideoRecording(ctx context.Context) error

	// SaveMission uploads plan, replacing any stored mission.
	SaveMission(ctx context.Context, plan mission.Plan) error

	// StartMission runs the stored mission, arming and switching to an
	// automatic mode when requested.
	StartMission(ctx context.Context, arm, auto bool) error

	// EnableEvents and DisableEvents take wire event names; nil means all.
	EnableEvents(ctx context.Context, names []string) error
	DisableEvents(ctx context.Context, names []string) error
}
