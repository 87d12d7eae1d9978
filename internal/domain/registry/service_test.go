package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/careledger/careledger/internal/platform/events"
)

const testOwner = Identity("registry-owner")

func newTestService() *Service {
	return NewService(NewMemStore(testOwner), events.NewBus(zerolog.Nop()), zerolog.Nop())
}

// eventRecorder captures bus events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) listen(_ context.Context, ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) byType(eventType string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func newRecordedService(t *testing.T) (*Service, *eventRecorder) {
	t.Helper()
	bus := events.NewBus(zerolog.Nop())
	rec := &eventRecorder{}
	bus.Subscribe(rec.listen)
	return NewService(NewMemStore(testOwner), bus, zerolog.Nop()), rec
}

// registerPatient is a test shortcut that fails the test on error.
func registerPatient(t *testing.T, svc *Service, owner Identity, name string) int64 {
	t.Helper()
	id, err := svc.RegisterPatient(context.Background(), owner, name, 315532800, "O+")
	if err != nil {
		t.Fatalf("RegisterPatient(%s): %v", owner, err)
	}
	return id
}

func registerDoctor(t *testing.T, svc *Service, doctor Identity, name string) {
	t.Helper()
	if err := svc.RegisterDoctor(context.Background(), testOwner, doctor, name, "LIC-"+string(doctor)); err != nil {
		t.Fatalf("RegisterDoctor(%s): %v", doctor, err)
	}
}
