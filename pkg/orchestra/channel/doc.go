// Package channel manages user-facing transports and their sessions.
//
// A Channel is one transport (web chat, phone, messenger). The Router keeps
// its own session table on top of the channels, enforces session status
// rules and turns every session and message operation into a channel.*
// event on the bus.
//
// Switching channels never keeps the session ID: the old session is closed
// and a new one is created on the target channel with breadcrumbs
// (previousChannel, previousSessionId, switchedAt) in its metadata.
package channel
