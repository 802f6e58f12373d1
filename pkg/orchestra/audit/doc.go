// Package audit captures per-session event history and replays it.
//
// The Service observes every domain on the bus. Each event lands in the
// session's EventTrace, an in-memory buffer that drops its oldest entry once
// it holds MaxTraceEvents events, and, when a Log is configured, in a durable
// log that outlives the process:
//
//   - RedisStreamLog: one Redis stream per session (events:history:<id>),
//     approximately capped and expiring after a TTL
//   - SQLiteLog: one table, capped per session, TTL applied on read and by Prune
//
// Durable writes are best effort. A failed write is logged and counted; it
// never reaches the producer of the event.
//
// Replay works on snapshots. CreateReplaySession copies a filtered slice of
// history into a ReplaySession; Replay re-emits those copies on the bus,
// pausing between events for the original timestamp gap divided by the
// speed factor. Replayed events carry metadata replayId and are not captured
// again.
package audit
