package usecase

import (
	"context"
	"sync"
)

// sessionGate serializes turns within a session while keeping distinct
// sessions fully parallel. Each session gets a one-slot token channel;
// acquisition waits on the channel or the caller's context, so no mutex is
// held while a turn is in flight.
type sessionGate struct {
	mu    sync.Mutex
	slots map[string]*gateSlot
}

type gateSlot struct {
	token chan struct{}
	refs  int
}

func newSessionGate() *sessionGate {
	return &sessionGate{slots: make(map[string]*gateSlot)}
}

// acquire blocks until the session's turn slot is free or ctx is done.
// The returned release function must be called exactly once.
func (g *sessionGate) acquire(ctx context.Context, sessionID string) (func(), error) {
	g.mu.Lock()
	slot, ok := g.slots[sessionID]
	if !ok {
		slot = &gateSlot{token: make(chan struct{}, 1)}
		g.slots[sessionID] = slot
	}
	slot.refs++
	g.mu.Unlock()

	select {
	case slot.token <- struct{}{}:
		return func() {
			<-slot.token
			g.unref(sessionID, slot)
		}, nil
	case <-ctx.Done():
		g.unref(sessionID, slot)
		return nil, ctx.Err()
	}
}

func (g *sessionGate) unref(sessionID string, slot *gateSlot) {
	g.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(g.slots, sessionID)
	}
	g.mu.Unlock()
}
