package grantkit

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeClock is a settable time source for deterministic sweep tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testHarness wires an Engine to in-memory fakes.
type testHarness struct {
	engine     *Engine
	store      *MemoryStore
	audit      *MemoryAuditLog
	dispatcher *MemoryDispatcher
	clock      *fakeClock
}

func newTestHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()

	store := NewMemoryStore()
	audit := NewMemoryAuditLog()
	dispatcher := NewMemoryDispatcher()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	log := logrus.New()
	log.SetOutput(io.Discard)

	base := []Option{
		WithClock(clock.Now),
		WithLogger(log),
	}
	engine := NewEngine(store, audit, dispatcher, append(base, opts...)...)

	return &testHarness{
		engine:     engine,
		store:      store,
		audit:      audit,
		dispatcher: dispatcher,
		clock:      clock,
	}
}

// in returns a timestamp d after the harness clock's current time.
func (h *testHarness) in(d time.Duration) *time.Time {
	t := h.clock.Now().Add(d)
	return &t
}

// mustAssign seeds a grant and fails the test on error.
func (h *testHarness) mustAssign(t *testing.T, userID string, role Role, expiresAt *time.Time) *RoleGrant {
	t.Helper()
	grant, err := h.engine.Assign(context.Background(), userID, role, expiresAt)
	if err != nil {
		t.Fatalf("assign %s/%s: %v", userID, role, err)
	}
	return grant
}

// lastAudit returns the most recent audit record, or nil.
func (h *testHarness) lastAudit() *AuditRecord {
	records := h.audit.Records()
	if len(records) == 0 {
		return nil
	}
	return &records[len(records)-1]
}
