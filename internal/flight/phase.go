package flight

import (
	"errors"
	"fmt"
	"time"
)

// Phase is the controller's position in a flight.
type Phase int

const (
	Idle Phase = iota
	Arming
	TakingOff
	Climbing
	Transiting
	Landing
	Disarming
	MissionUploading
	MissionRunning
	Terminated
)

var phaseNames = [...]string{
	Idle:             "idle",
	Arming:           "arming",
	TakingOff:        "taking_off",
	Climbing:         "climbing",
	Transiting:       "transiting",
	Landing:          "landing",
	Disarming:        "disarming",
	MissionUploading: "mission_uploading",
	MissionRunning:   "mission_running",
	Terminated:       "terminated",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// MarshalText renders the phase name in JSON output.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// disarmExpected reports whether a disarm in p is the normal end of a flight.
func (p Phase) disarmExpected() bool {
	return p == Landing || p == Disarming || p == MissionRunning
}

// Recipe selects how the controller gets the vehicle to its goal.
type Recipe string

const (
	// RecipeDirect commands each leg: takeoff, climbTo, goTo, land.
	RecipeDirect Recipe = "direct"
	// RecipeLinearMission uploads takeoff, waypoints and land.
	RecipeLinearMission Recipe = "linear_mission"
	// RecipeLoopMission also circles the goal before landing.
	RecipeLoopMission Recipe = "loop_mission"
)

// ParseRecipe validates a recipe name.
func ParseRecipe(s string) (Recipe, error) {
	switch r := Recipe(s); r {
	case RecipeDirect, RecipeLinearMission, RecipeLoopMission:
		return r, nil
	default:
		return "", fmt.Errorf("unknown flight recipe %q", s)
	}
}

func (r Recipe) isMission() bool {
	return r == RecipeLinearMission || r == RecipeLoopMission
}

// Outcome is how a flight ended.
type Outcome int

const (
	Completed Outcome = iota
	Aborted
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// MarshalText renders the outcome name in JSON output.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Abort reasons. An abort ends the flight without reporting a failure.
var (
	ErrUnexpectedDisarm = errors.New("unexpected disarm")
	ErrFlightTimeout    = errors.New("flight timeout")
	ErrCancelled        = errors.New("flight cancelled")
	ErrTelemetryClosed  = errors.New("telemetry stream closed")
)

// ErrSessionLost fails a flight whose hub session dropped under it.
var ErrSessionLost = errors.New("hub session lost")

// Status is the terminal result of a flight.
type Status struct {
	Outcome Outcome `json:"outcome"`
	// Reason explains an abort or failure.
	Reason string `json:"reason,omitempty"`
	// Err is the abort cause or the failing error.
	Err error `json:"-"`
	// Phase is the phase the flight was in when it ended.
	Phase Phase `json:"phase"`
	// TeardownErr collects disconnect failures; it does not change Outcome.
	TeardownErr error `json:"-"`
}

// CompletedStatus is a normal end of flight.
func CompletedStatus() Status {
	return Status{Outcome: Completed}
}

// AbortedStatus ends a flight for cause without failure.
func AbortedStatus(cause error) Status {
	return Status{Outcome: Aborted, Reason: cause.Error(), Err: cause}
}

// FailedStatus ends a flight because err could not be recovered from.
func FailedStatus(err error) Status {
	return Status{Outcome: Failed, Reason: err.Error(), Err: err}
}

func (s Status) String() string {
	if s.Reason == "" {
		return fmt.Sprintf("%s in %s", s.Outcome, s.Phase)
	}
	return fmt.Sprintf("%s in %s: %s", s.Outcome, s.Phase, s.Reason)
}

// Transition records one phase change.
type Transition struct {
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// CommandRecord records one issued command.
type CommandRecord struct {
	Command string        `json:"command"`
	Args    []interface{} `json:"args,omitempty"`
	Attempt int           `json:"attempt"`
	Err     error         `json:"-"`
	Latency time.Duration `json:"latency"`
	At      time.Time     `json:"at"`
}

// RetryRecord records how a retry handle ended.
type RetryRecord struct {
	Goal   string `json:"goal"`
	State  string `json:"state"`
	Issues int    `json:"issues"`
}
