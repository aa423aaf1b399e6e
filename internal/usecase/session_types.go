package usecase

import (
	"context"

	"hotline/internal/ports"
)

// activeConn binds one live room session to the goroutines pumping it. The
// generation value is captured at attach time; every callback compares it
// against the manager's current generation so work scheduled for a dead
// connection is a no-op.
type activeConn struct {
	session ports.RoomSession
	ctx     context.Context
	cancel  context.CancelFunc
	gen     int

	pumpDone   chan struct{}
	levelsDone chan struct{}
}
