package registry

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/careledger/careledger/internal/platform/events"
)

// Service implements the registry operations on top of a Store. It owns
// input validation, policy selection and event publication; all relational
// precondition checks live inside the Store's transactions.
type Service struct {
	store  Store
	bus    *events.Bus
	logger zerolog.Logger
}

func NewService(store Store, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Owner reports the registry owner identity the service was configured with.
func (s *Service) Owner() Identity {
	return s.store.Owner()
}

func (s *Service) publish(ctx context.Context, eventType string, attrs map[string]string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, eventType, attrs)
}
