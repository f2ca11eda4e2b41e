package gateway

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Gateway delivers outbound messages to brokers. Transport and
// authentication live behind this boundary; the market core only promises
// the message contract: per-broker ordered batches and market-wide
// broadcasts.
type Gateway interface {
	// Send delivers an ordered batch of messages to a single broker.
	Send(broker string, messages []interface{})
	// Broadcast delivers a message to every broker.
	Broadcast(message interface{})
}

// LogGateway writes every outbound message to the structured log. The
// server uses it as the delivery audit trail.
type LogGateway struct{}

func NewLogGateway() *LogGateway {
	return &LogGateway{}
}

func (g *LogGateway) Send(broker string, messages []interface{}) {
	logger := log.With().
		Str("component", "gateway").
		Str("broker", broker).
		Logger()
	logger.Info().Int("messages", len(messages)).Msg("delivering broker batch")
	for _, msg := range messages {
		logger.Debug().Interface("message", msg).Msg("outbound")
	}
}

func (g *LogGateway) Broadcast(message interface{}) {
	log.Debug().
		Str("component", "gateway").
		Interface("message", message).
		Msg("broadcast")
}

// RecordingGateway keeps everything it delivers, for tests and diagnostics.
type RecordingGateway struct {
	mu         sync.Mutex
	sent       map[string][][]interface{}
	broadcasts []interface{}
}

func NewRecordingGateway() *RecordingGateway {
	return &RecordingGateway{
		sent: make(map[string][][]interface{}),
	}
}

func (g *RecordingGateway) Send(broker string, messages []interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	batch := make([]interface{}, len(messages))
	copy(batch, messages)
	g.sent[broker] = append(g.sent[broker], batch)
}

func (g *RecordingGateway) Broadcast(message interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcasts = append(g.broadcasts, message)
}

// Batches returns every batch delivered to the given broker, oldest first.
func (g *RecordingGateway) Batches(broker string) [][]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]interface{}(nil), g.sent[broker]...)
}

// LastBatch returns the most recent batch delivered to the given broker,
// or nil if none was sent.
func (g *RecordingGateway) LastBatch(broker string) []interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	batches := g.sent[broker]
	if len(batches) == 0 {
		return nil
	}
	return batches[len(batches)-1]
}

// Broadcasts returns every broadcast message, oldest first.
func (g *RecordingGateway) Broadcasts() []interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]interface{}(nil), g.broadcasts...)
}
