package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/gridpool/market-core/internal/config"
	"github.com/gridpool/market-core/internal/types"
	"github.com/rs/zerolog/log"
)

// Service owns the mapping from simulated time to timeslot serial numbers
// and the set of competing brokers. The auction and accounting services
// consume it through narrow read-only interfaces; only the scheduler
// advances the clock.
type Service struct {
	base         time.Time
	slotDuration time.Duration
	offset       int
	window       int

	mu      sync.RWMutex
	current int
	brokers map[string]*types.Broker
	order   []string // registration order, for stable iteration
}

// NewService creates a registry with the current timeslot at serial 0,
// starting at base.
func NewService(base time.Time, cfg config.TimeslotConfig) *Service {
	return &Service{
		base:         base,
		slotDuration: time.Duration(cfg.SlotMinutes) * time.Minute,
		offset:       cfg.EnabledOffset,
		window:       cfg.EnabledWindow,
		brokers:      make(map[string]*types.Broker),
	}
}

// AddBroker registers a competing broker. Duplicate usernames are an
// invariant violation: the write is dropped and an error returned, leaving
// the existing record untouched.
func (s *Service) AddBroker(username string, wholesale bool) (*types.Broker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.brokers[username]; exists {
		log.Error().
			Str("broker", username).
			Msg("duplicate broker registration dropped")
		return nil, fmt.Errorf("broker %s already registered", username)
	}
	broker := types.NewBroker(username, wholesale)
	s.brokers[username] = broker
	s.order = append(s.order, username)
	log.Info().Str("broker", username).Bool("wholesale", wholesale).Msg("broker registered")
	return broker, nil
}

// FindBroker returns the broker record for the given username.
func (s *Service) FindBroker(username string) (*types.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	broker, exists := s.brokers[username]
	if !exists {
		return nil, fmt.Errorf("unknown broker %s", username)
	}
	return broker, nil
}

// Brokers returns all registered brokers in registration order.
func (s *Service) Brokers() []*types.Broker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*types.Broker, 0, len(s.order))
	for _, username := range s.order {
		result = append(result, s.brokers[username])
	}
	return result
}

// CurrentTimeslot returns the timeslot the simulation is currently in.
func (s *Service) CurrentTimeslot() types.Timeslot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeslot(s.current)
}

// EnabledTimeslots returns the strictly future timeslots currently open
// for trading, in ascending serial order.
func (s *Service) EnabledTimeslots() []types.Timeslot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	first := s.current + s.offset
	last := s.current + s.window
	result := make([]types.Timeslot, 0, last-first+1)
	for serial := first; serial <= last; serial++ {
		result = append(result, s.timeslot(serial))
	}
	return result
}

// IsEnabled reports whether the given timeslot serial is open for trading.
func (s *Service) IsEnabled(serial int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return serial >= s.current+s.offset && serial <= s.current+s.window
}

// Advance moves the simulated clock forward one timeslot and returns the
// new current timeslot.
func (s *Service) Advance() types.Timeslot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current++
	return s.timeslot(s.current)
}

func (s *Service) timeslot(serial int) types.Timeslot {
	return types.Timeslot{
		Serial: serial,
		Start:  s.base.Add(time.Duration(serial) * s.slotDuration),
	}
}
