// Package realtime implements the live event client shared by every dashboard
// screen.
//
// A Client owns one duplex connection and multiplexes the frames arriving on it
// to any number of subscribers by topic:
//   - the connection is opened lazily by the first Subscribe
//   - a keep-alive frame is sent on a fixed interval while the connection is open
//   - a lost connection is redialed after a backoff delay, forever, until Shutdown
//   - subscriptions survive reconnects without re-registration
//
// Connection failures, malformed frames and failing handlers are logged and
// recovered inside the client; only caller misuse is returned as an error.
package realtime
