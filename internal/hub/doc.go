// Package hub is the caller side of the actor hub: a connection that
// invokes methods on actor modules and receives their events.
//
// Two transports carry the same JSON frames: a websocket and a gRPC bidi
// stream. A bearer token goes in the upgrade header or the stream metadata.
package hub
