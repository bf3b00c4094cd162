package core

// Member is a chat participant as seen by the room registry: a live connection
// bound to a username.
type Member interface {
	// ID identifies the underlying connection; it changes on every login.
	ID() string
	// Name is the authenticated username.
	Name() string
	// Send writes one line to the connection. It must not block indefinitely.
	Send(line string) error
}
