package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flight-control/fcc/internal/geo"
)

// ErrFlightNotFound is returned for an unknown flight id.
var ErrFlightNotFound = errors.New("flight not found")

// Flight is one recorded flight. End fields are nil until it finishes.
type Flight struct {
	ID         string     `json:"id"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	ActorID    string     `json:"actorId"`
	Recipe     string     `json:"recipe"`
	Config     *string    `json:"config,omitempty"`
	Outcome    *string    `json:"outcome,omitempty"`
	Reason     *string    `json:"reason,omitempty"`
	FinalPhase *string    `json:"finalPhase,omitempty"`
}

// TrackPoint is one recorded position.
type TrackPoint struct {
	Time     time.Time      `json:"time"`
	Position geo.Coordinate `json:"position"`
}

// TransitionRow is one recorded phase change.
type TransitionRow struct {
	Time   time.Time `json:"time"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
}

// CommandRow is one recorded command issue.
type CommandRow struct {
	Time      time.Time `json:"time"`
	Command   string    `json:"command"`
	Attempt   int       `json:"attempt"`
	LatencyMs float64   `json:"latencyMs"`
	Error     *string   `json:"error,omitempty"`
}

// Store handles database operations. Writes and reads use separate
// connections, opened on first use.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewStore returns a store for the database at dbPath. The schema is
// created on the first write.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// CreateFlight starts the record of flight id. config may be a string,
// []byte or any JSON-serializable value.
func (s *Store) CreateFlight(ctx context.Context, id, actorID, recipe string, start time.Time, config any) (err error) {
	var configData sql.NullString
	switch c := config.(type) {
	case nil:
	case string:
		configData = sql.NullString{String: c, Valid: true}
	case []byte:
		configData = sql.NullString{String: string(c), Valid: true}
	default:
		p, mErr := json.Marshal(c)
		if mErr != nil {
			return fmt.Errorf("marshaling config: %w", mErr)
		}
		configData = sql.NullString{String: string(p), Valid: true}
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	if _, err = db.ExecContext(ctx, insertFlightSQL, id, start.UTC(), actorID, recipe, configData); err != nil {
		return fmt.Errorf("inserting flight: %w", err)
	}
	return nil
}

// FinishFlight stores how flight id ended.
func (s *Store) FinishFlight(ctx context.Context, id string, end time.Time, outcome, reason, phase string) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	res, err := db.ExecContext(ctx, finishFlightSQL, end.UTC(), outcome, nullString(reason), phase, id)
	if err != nil {
		return fmt.Errorf("updating flight: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrFlightNotFound, id)
	}
	return nil
}

// insertBatch writes recs for flight id in one transaction.
func (s *Store) insertBatch(ctx context.Context, id string, recs []record) (err error) {
	if len(recs) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, r := range recs {
		ts := r.at.UTC()
		switch r.kind {
		case recordPosition:
			_, err = tx.ExecContext(ctx, insertPositionSQL, id, ts, r.position.X, r.position.Y, r.position.Z)
		case recordEvent:
			_, err = tx.ExecContext(ctx, insertEventSQL, id, ts, r.name, r.detail)
		case recordTransition:
			_, err = tx.ExecContext(ctx, insertTransitionSQL, id, ts, r.from, r.to, r.detail)
		case recordCommand:
			_, err = tx.ExecContext(ctx, insertCommandSQL, id, ts, r.name, r.attempt, r.latencyMs, nullString(r.errText))
		}
		if err != nil {
			return fmt.Errorf("inserting %s record: %w", r.kind, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Flight returns the record of flight id.
func (s *Store) Flight(ctx context.Context, id string) (*Flight, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	f, err := scanFlight(db.QueryRowContext(ctx, selectFlightSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrFlightNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning flight: %w", err)
	}
	return f, nil
}

// Flights returns every flight, oldest first.
func (s *Store) Flights(ctx context.Context) (flights []*Flight, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectFlightsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying flights: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		f, sErr := scanFlight(rows)
		if sErr != nil {
			return nil, fmt.Errorf("scanning flight: %w", sErr)
		}
		flights = append(flights, f)
	}
	return flights, rows.Err()
}

// Track returns the positions of flight id in arrival order.
func (s *Store) Track(ctx context.Context, id string) (track []TrackPoint, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectTrackSQL, id)
	if err != nil {
		return nil, fmt.Errorf("querying track: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var p TrackPoint
		if err = rows.Scan(&p.Time, &p.Position.X, &p.Position.Y, &p.Position.Z); err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		track = append(track, p)
	}
	return track, rows.Err()
}

// Transitions returns the phase changes of flight id in order.
func (s *Store) Transitions(ctx context.Context, id string) (out []TransitionRow, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectTransitionsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var t TransitionRow
		if err = rows.Scan(&t.Time, &t.From, &t.To, &t.Reason); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Commands returns the command issues of flight id in order.
func (s *Store) Commands(ctx context.Context, id string) (out []CommandRow, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectCommandsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var c CommandRow
		var errText sql.NullString
		if err = rows.Scan(&c.Time, &c.Command, &c.Attempt, &c.LatencyMs, &errText); err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		if errText.Valid {
			c.Error = &errText.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// EventCounts returns how many events of each kind flight id recorded.
func (s *Store) EventCounts(ctx context.Context, id string) (counts map[string]int, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, countEventsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	defer closeWithError(rows, &err)

	counts = make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err = rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning event count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// Close closes both connections.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.writeDB != nil {
			errs = append(errs, s.writeDB.Close())
			s.writeDB = nil
		}
		if s.readDB != nil {
			errs = append(errs, s.readDB.Close())
			s.readDB = nil
		}
		s.closeErr = errors.Join(errs...)
	})

	return s.closeErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlight(row rowScanner) (*Flight, error) {
	var (
		f                              Flight
		end                            sql.NullTime
		config, outcome, reason, phase sql.NullString
	)
	if err := row.Scan(&f.ID, &f.StartTime, &end, &f.ActorID, &f.Recipe, &config, &outcome, &reason, &phase); err != nil {
		return nil, err
	}
	if end.Valid {
		f.EndTime = &end.Time
	}
	f.Config = stringPtr(config)
	f.Outcome = stringPtr(outcome)
	f.Reason = stringPtr(reason)
	f.FinalPhase = stringPtr(phase)
	return &f, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
