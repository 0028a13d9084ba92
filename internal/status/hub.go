package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/flight-control/fcc/internal/flight"
	"github.com/flight-control/fcc/internal/geo"
	"github.com/flight-control/fcc/internal/telemetry"
)

// Event types sent on the stream.
const (
	EventReady     = "ready"
	EventPhase     = "phase"
	EventCommand   = "command"
	EventTelemetry = "telemetry"
	EventEnd       = "end"
	EventHeartbeat = "heartbeat"
)

const (
	defaultBufferSize        = 512
	defaultClientQueue       = 100
	defaultHeartbeatInterval = 15 * time.Second
)

// Event is one server-sent event.
type Event struct {
	ID   int64                  `json:"id,omitempty"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Snapshot is the current state of the flight.
type Snapshot struct {
	FlightID  string          `json:"flightId"`
	Actor     string          `json:"actor,omitempty"`
	Recipe    string          `json:"recipe,omitempty"`
	Started   time.Time       `json:"started"`
	Phase     flight.Phase    `json:"phase"`
	Mode      string          `json:"mode,omitempty"`
	Armed     bool            `json:"armed"`
	Position  *geo.Coordinate `json:"position,omitempty"`
	Altitude  float64         `json:"altitude"`
	Commands  int             `json:"commands"`
	Failures  int             `json:"commandFailures"`
	Ended     bool            `json:"ended"`
	Outcome   string          `json:"outcome,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type client struct {
	id     int64
	w      http.ResponseWriter
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	wmu    sync.Mutex
}

// Hub fans flight events out to SSE clients and keeps the snapshot and a
// replay buffer. Its observer and listener methods never block: a client
// whose queue is full misses the event.
type Hub struct {
	logger    *slog.Logger
	heartbeat time.Duration

	mu       sync.RWMutex
	snapshot Snapshot
	nextID   int64
	buffer   []Event
	capacity int
	clients  map[int64]*client
	nextCID  int64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = logger.With(slog.String("component", "status")) }
}

// WithBufferSize sets how many events are kept for replay.
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.capacity = n
		}
	}
}

// WithHeartbeat sets the heartbeat interval.
func WithHeartbeat(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// NewHub creates a hub for one flight.
func NewHub(flightID, actor, recipe string, opts ...HubOption) *Hub {
	now := time.Now()
	h := &Hub{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		heartbeat: defaultHeartbeatInterval,
		capacity:  defaultBufferSize,
		clients:   make(map[int64]*client),
		done:      make(chan struct{}),
		snapshot: Snapshot{
			FlightID:  flightID,
			Actor:     actor,
			Recipe:    recipe,
			Started:   now,
			Phase:     flight.Idle,
			UpdatedAt: now,
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	h.wg.Add(1)
	go h.heartbeatLoop()
	return h
}

// Snapshot returns the current flight state.
func (h *Hub) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.snapshot
	if s.Position != nil {
		p := *s.Position
		s.Position = &p
	}
	return s
}

// Clients returns the number of connected stream clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PhaseChanged publishes a transition.
func (h *Hub) PhaseChanged(t flight.Transition) {
	h.publish(EventPhase, map[string]interface{}{
		"from":   t.From.String(),
		"to":     t.To.String(),
		"reason": t.Reason,
		"ts":     t.At.UTC().Format(time.RFC3339Nano),
	}, func(s *Snapshot) { s.Phase = t.To })
}

// CommandIssued publishes a command issue.
func (h *Hub) CommandIssued(c flight.CommandRecord) {
	data := map[string]interface{}{
		"command":   c.Command,
		"attempt":   c.Attempt,
		"latencyMs": float64(c.Latency) / float64(time.Millisecond),
	}
	if len(c.Args) > 0 {
		data["args"] = c.Args
	}
	if c.Err != nil {
		data["error"] = c.Err.Error()
	}
	h.publish(EventCommand, data, func(s *Snapshot) {
		s.Commands++
		if c.Err != nil {
			s.Failures++
		}
	})
}

// FlightEnded publishes the terminal status.
func (h *Hub) FlightEnded(st flight.Status) {
	data := map[string]interface{}{
		"outcome": st.Outcome.String(),
		"phase":   st.Phase.String(),
	}
	if st.Reason != "" {
		data["reason"] = st.Reason
	}
	h.publish(EventEnd, data, func(s *Snapshot) {
		s.Ended = true
		s.Outcome = st.Outcome.String()
		s.Reason = st.Reason
		s.Phase = st.Phase
	})
}

// Event publishes a telemetry event. It is a telemetry.Listener.
func (h *Hub) Event(ev telemetry.Event) {
	data := map[string]interface{}{"kind": ev.Kind.String()}
	var apply func(*Snapshot)
	switch ev.Kind {
	case telemetry.KindPosition:
		data["position"] = ev.Position.Array()
		p := ev.Position
		apply = func(s *Snapshot) { s.Position = &p }
	case telemetry.KindAltitude:
		data["altitude"] = ev.Altitude
		apply = func(s *Snapshot) { s.Altitude = ev.Altitude }
	case telemetry.KindMode:
		data["mode"] = ev.Mode
		apply = func(s *Snapshot) { s.Mode = ev.Mode }
	case telemetry.KindArmedState:
		data["armed"] = ev.Armed
		apply = func(s *Snapshot) { s.Armed = ev.Armed }
	case telemetry.KindCommandReached:
		data["index"] = ev.Index
	case telemetry.KindOther:
		data["name"] = ev.Name
		if ev.Raw != nil {
			data["payload"] = ev.Raw
		}
	}
	h.publish(EventTelemetry, data, apply)
}

func (h *Hub) publish(typ string, data map[string]interface{}, apply func(*Snapshot)) {
	h.mu.Lock()
	if apply != nil {
		apply(&h.snapshot)
	}
	h.snapshot.UpdatedAt = time.Now()
	h.nextID++
	ev := Event{ID: h.nextID, Type: typ, Data: data}
	h.buffer = append(h.buffer, ev)
	if len(h.buffer) > h.capacity {
		h.buffer = h.buffer[len(h.buffer)-h.capacity:]
	}
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	h.fanOut(clients, ev)
}

func (h *Hub) fanOut(clients []*client, ev Event) {
	for _, c := range clients {
		select {
		case <-c.ctx.Done():
		case c.events <- ev:
		default:
			h.logger.Debug("status client slow, event dropped", "client", c.id, "event_id", ev.ID)
		}
	}
}

// Subscribe streams events to w until the request ends or the hub stops.
// It sends a ready event with the snapshot first, then replays buffered
// events newer than Last-Event-ID.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := int64(0)
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastID = id
		}
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c := &client{w: w, ctx: cctx, cancel: cancel, events: make(chan Event, defaultClientQueue)}

	// Registration and the replay cut are taken under one lock so no event
	// is both replayed and queued, or neither.
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return fmt.Errorf("status hub stopped")
	default:
	}
	h.nextCID++
	c.id = h.nextCID
	h.clients[c.id] = c
	snap := h.snapshot
	var replay []Event
	if lastID > 0 {
		for _, ev := range h.buffer {
			if ev.ID > lastID {
				replay = append(replay, ev)
			}
		}
	}
	h.mu.Unlock()
	defer h.unregister(c.id)

	h.logger.Debug("status client connected", "client", c.id, "last_event_id", lastID, "replay", len(replay))

	if err := c.send(Event{Type: EventReady, Data: map[string]interface{}{"snapshot": snap}}); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}
	for _, ev := range replay {
		if err := c.send(ev); err != nil {
			return fmt.Errorf("failed to replay events: %w", err)
		}
	}

	for {
		select {
		case <-cctx.Done():
			return nil
		case <-h.done:
			return nil
		case ev := <-c.events:
			if err := c.send(ev); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) unregister(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		c.cancel()
		delete(h.clients, id)
	}
}

func (c *client) send(ev Event) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if ev.ID > 0 {
		if _, err := fmt.Fprintf(c.w, "id: %d\n", ev.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\n", ev.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}
	if f, ok := c.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Heartbeats are not buffered and carry no id.
func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.mu.RLock()
			clients := make([]*client, 0, len(h.clients))
			for _, c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()
			h.fanOut(clients, Event{Type: EventHeartbeat, Data: map[string]interface{}{
				"ts": time.Now().UTC().Format(time.RFC3339),
			}})
		case <-h.done:
			return
		}
	}
}

// Stop ends every stream and the heartbeat.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for _, c := range h.clients {
			c.cancel()
		}
		h.mu.Unlock()
		h.wg.Wait()
	})
}

var _ flight.Observer = (*Hub)(nil)
