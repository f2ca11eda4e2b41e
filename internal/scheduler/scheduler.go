package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/gridpool/market-core/internal/types"
	"github.com/rs/zerolog/log"
)

// Activator is one phase of the per-timeslot processing chain.
type Activator interface {
	Activate(t time.Time, phase int) error
}

// Registry is the clock the scheduler advances.
type Registry interface {
	Advance() types.Timeslot
}

// Service drives the simulation: once per step it advances the timeslot
// registry, then activates the clearing engine (phase 1) and the ledger
// (phase 2), in that order, synchronously. The clearing engine must post a
// step's market transactions before the ledger settles cash for that step.
type Service struct {
	registry   Registry
	auction    Activator
	accounting Activator
}

func NewService(registry Registry, auction, accounting Activator) *Service {
	return &Service{
		registry:   registry,
		auction:    auction,
		accounting: accounting,
	}
}

// Step advances the simulation one timeslot. A phase failure is fatal for
// the step: the error propagates and the simulation is expected to halt
// rather than continue with an inconsistent ledger.
func (s *Service) Step() (types.Timeslot, error) {
	ts := s.registry.Advance()
	logger := log.With().
		Str("component", "scheduler").
		Int("timeslot", ts.Serial).
		Logger()
	logger.Info().Time("start", ts.Start).Msg("step")

	if err := s.auction.Activate(ts.Start, 1); err != nil {
		return ts, fmt.Errorf("auction activation failed for timeslot %d: %w", ts.Serial, err)
	}
	if err := s.accounting.Activate(ts.Start, 2); err != nil {
		return ts, fmt.Errorf("accounting activation failed for timeslot %d: %w", ts.Serial, err)
	}
	return ts, nil
}

// Run steps the simulation on a fixed wall-clock interval until the context
// is cancelled or a step fails.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	logger := log.With().Str("component", "scheduler").Logger()
	logger.Info().Dur("interval", interval).Msg("starting scheduler")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down scheduler")
			return nil
		case <-ticker.C:
			if _, err := s.Step(); err != nil {
				logger.Error().Err(err).Msg("step failed, halting simulation")
				return err
			}
		}
	}
}
