package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gridpool/market-core/internal/auth"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	serverAddress   = "http://localhost:8080"
	simulatedDays   = 3
	slotsPerDay     = 24
	ordersPerSlot   = 4  // per broker per timeslot
	enabledWindow   = 24 // must match server timeslot.enabled_window
	marketOrderRate = 0.1
	priceAnchor     = 40.0
	priceSpread     = 10.0
)

// init configures the logger for the simulation with pretty printing and
// timestamps.
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes min, max, mean, median, 95th and 99th percentile
// durations from the recorded samples.
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// brokerClient is one competing broker talking to the market API.
type brokerClient struct {
	broker    string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

func newBrokerClient(cred auth.Credential, stats map[string]*routeStats) (*brokerClient, error) {
	bc := &brokerClient{
		broker: cred.Broker,
		client: &http.Client{Timeout: 10 * time.Second},
		stats:  stats,
	}

	token, err := bc.authenticate(cred)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate %s: %w", cred.Broker, err)
	}
	bc.authToken = token
	return bc, nil
}

func (bc *brokerClient) authenticate(cred auth.Credential) (string, error) {
	start := time.Now()
	defer func() {
		bc.stats["auth"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(auth.TokenRequest{
		APIKey:    cred.APIKey,
		APISecret: cred.APISecret,
	})
	if err != nil {
		return "", err
	}

	resp, err := bc.client.Post(serverAddress+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	if !envelope.Success || envelope.Data.Token == "" {
		return "", fmt.Errorf("authentication rejected (status %d)", resp.StatusCode)
	}
	return envelope.Data.Token, nil
}

func (bc *brokerClient) do(method, path string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, serverAddress+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bc.authToken)
	return bc.client.Do(req)
}

// submitOrder places one order. Sellers quote positive minimum prices,
// buyers quote negative maximum prices, matching the market's sign
// conventions.
func (bc *brokerClient) submitOrder(timeslot int, mWh float64, limitPrice *float64) {
	start := time.Now()
	resp, err := bc.do(http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"timeslot":    timeslot,
		"mwh":         mWh,
		"limit_price": limitPrice,
	})
	bc.stats["order"].addDuration(time.Since(start))
	if err != nil {
		bc.stats["order"].addFailure()
		log.Warn().Err(err).Str("broker", bc.broker).Msg("order submission failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		bc.stats["order"].addFailure()
	}
}

// step advances the market one timeslot through the internal API.
func (bc *brokerClient) step() error {
	start := time.Now()
	resp, err := bc.do(http.MethodPost, "/api/v1/internal/step", nil)
	bc.stats["step"].addDuration(time.Since(start))
	if err != nil {
		bc.stats["step"].addFailure()
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		bc.stats["step"].addFailure()
		return fmt.Errorf("step returned status %d", resp.StatusCode)
	}
	return nil
}

// status fetches the broker's cash balance and current market position.
func (bc *brokerClient) status() (cash, position float64, err error) {
	start := time.Now()
	resp, err := bc.do(http.MethodGet, "/api/v1/brokers/"+bc.broker, nil)
	bc.stats["status"].addDuration(time.Since(start))
	if err != nil {
		bc.stats["status"].addFailure()
		return 0, 0, err
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			CashBalance    float64 `json:"cash_balance"`
			MarketPosition float64 `json:"market_position"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return 0, 0, err
	}
	return envelope.Data.CashBalance, envelope.Data.MarketPosition, nil
}

// randomOrder produces a plausible bid or ask around the price anchor.
func randomOrder(current int) (timeslot int, mWh float64, limitPrice *float64) {
	timeslot = current + 1 + rand.Intn(enabledWindow)
	quantity := 1.0 + rand.Float64()*19.0

	if rand.Float64() < 0.5 {
		// ask: negative quantity, positive minimum price
		mWh = -quantity
		if rand.Float64() >= marketOrderRate {
			price := priceAnchor - priceSpread + rand.Float64()*priceSpread
			limitPrice = &price
		}
	} else {
		// bid: positive quantity, negative maximum price
		mWh = quantity
		if rand.Float64() >= marketOrderRate {
			price := -(priceAnchor - priceSpread + rand.Float64()*2*priceSpread)
			limitPrice = &price
		}
	}
	return
}

func main() {
	log.Info().
		Int("days", simulatedDays).
		Int("slots_per_day", slotsPerDay).
		Msg("starting market simulation")

	stats := map[string]*routeStats{
		"auth":   {name: "Authentication"},
		"order":  {name: "Submit Order"},
		"step":   {name: "Step Timeslot"},
		"status": {name: "Broker Status"},
	}

	var clients []*brokerClient
	for _, cred := range auth.TestBrokers {
		bc, err := newBrokerClient(cred, stats)
		if err != nil {
			log.Fatal().Err(err).Msg("broker authentication failed")
		}
		clients = append(clients, bc)
	}

	totalSlots := simulatedDays * slotsPerDay
	for current := 0; current < totalSlots; current++ {
		var wg sync.WaitGroup
		for _, bc := range clients {
			wg.Add(1)
			go func(bc *brokerClient) {
				defer wg.Done()
				for i := 0; i < ordersPerSlot; i++ {
					timeslot, mWh, price := randomOrder(current)
					bc.submitOrder(timeslot, mWh, price)
				}
			}(bc)
		}
		wg.Wait()

		if err := clients[0].step(); err != nil {
			log.Fatal().Err(err).Int("timeslot", current+1).Msg("simulation halted")
		}
	}

	for _, bc := range clients {
		cash, position, err := bc.status()
		if err != nil {
			log.Warn().Err(err).Str("broker", bc.broker).Msg("status fetch failed")
			continue
		}
		log.Info().
			Str("broker", bc.broker).
			Float64("cash_balance", cash).
			Float64("market_position", position).
			Msg("final broker state")
	}

	printStats(stats)
}

func printStats(stats map[string]*routeStats) {
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rs := stats[key]
		if rs.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95, p99 := rs.calculate()
		log.Info().
			Str("route", rs.name).
			Int("calls", rs.totalCalls).
			Int("failures", rs.failures).
			Dur("min", min).
			Dur("max", max).
			Dur("mean", mean).
			Dur("median", median).
			Dur("p95", p95).
			Dur("p99", p99).
			Msg("route statistics")
	}
}
