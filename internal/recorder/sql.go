package recorder

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	insertFlightSQL = `
INSERT INTO flights (id,
                     start_time,
                     actor_id,
                     recipe,
                     config)
VALUES (?, ?, ?, ?, ?)`

	finishFlightSQL = `
UPDATE flights
SET end_time    = ?,
    outcome     = ?,
    reason      = ?,
    final_phase = ?
WHERE id = ?`

	selectFlightSQL = `
SELECT id,
       start_time,
       end_time,
       actor_id,
       recipe,
       config,
       outcome,
       reason,
       final_phase
FROM flights
WHERE id = ?`

	selectFlightsSQL = `
SELECT id,
       start_time,
       end_time,
       actor_id,
       recipe,
       config,
       outcome,
       reason,
       final_phase
FROM flights
ORDER BY start_time`

	insertPositionSQL = `
INSERT INTO positions (flight_id, timestamp, x, y, z)
VALUES (?, ?, ?, ?, ?)`

	insertEventSQL = `
INSERT INTO events (flight_id, timestamp, kind, detail)
VALUES (?, ?, ?, ?)`

	insertTransitionSQL = `
INSERT INTO transitions (flight_id, timestamp, from_phase, to_phase, reason)
VALUES (?, ?, ?, ?, ?)`

	insertCommandSQL = `
INSERT INTO commands (flight_id, timestamp, command, attempt, latency_ms, error)
VALUES (?, ?, ?, ?, ?, ?)`

	selectTrackSQL = `
SELECT timestamp, x, y, z
FROM positions
WHERE flight_id = ?
ORDER BY id`

	selectTransitionsSQL = `
SELECT timestamp, from_phase, to_phase, reason
FROM transitions
WHERE flight_id = ?
ORDER BY id`

	selectCommandsSQL = `
SELECT timestamp, command, attempt, latency_ms, error
FROM commands
WHERE flight_id = ?
ORDER BY id`

	countEventsSQL = `
SELECT kind, COUNT(*)
FROM events
WHERE flight_id = ?
GROUP BY kind`
)
