// Package loadtest simulates many offline clients reconciling at once.
//
// Each simulated client owns its own user id and submits a series of
// batches: the first creates records, later ones mix further creates with
// updates and deletes of records the client created earlier, as a phone
// coming back online would. Per-batch latency is aggregated into
// percentiles.
package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ledgersync/expsync/internal/schema"
	expsync "github.com/ledgersync/expsync/internal/sync"
	"github.com/shopspring/decimal"
)

// Submitter delivers one batch for a user and returns its results.
type Submitter interface {
	Submit(ctx context.Context, userID string, ops []schema.SyncOperation) ([]expsync.Result, error)
}

// ReconcilerSubmitter submits batches in-process.
type ReconcilerSubmitter struct {
	Reconciler expsync.Reconciler
}

// Submit implements Submitter.
func (s ReconcilerSubmitter) Submit(ctx context.Context, userID string, ops []schema.SyncOperation) ([]expsync.Result, error) {
	return s.Reconciler.Reconcile(ctx, userID, ops), nil
}

// HTTPSubmitter posts batches to a running server's /sync/expenses.
type HTTPSubmitter struct {
	BaseURL string
	Client  *http.Client
	// Token returns the bearer token for userID.
	Token func(userID string) (string, error)
}

// Submit implements Submitter.
func (s HTTPSubmitter) Submit(ctx context.Context, userID string, ops []schema.SyncOperation) ([]expsync.Result, error) {
	body, err := json.Marshal(map[string]any{"expenses": ops})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/sync/expenses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := s.Token(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var reply struct {
		Results []expsync.Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return reply.Results, nil
}

// Options configure a run.
type Options struct {
	// Clients is the number of concurrent simulated devices (default: 10)
	Clients int
	// BatchesPerClient is how many batches each client submits (default: 5)
	BatchesPerClient int
	// OpsPerBatch is the number of operations per batch (default: 10)
	OpsPerBatch int
	// UserPrefix names the simulated users, e.g. "loadtest" gives
	// loadtest-000, loadtest-001, ... (default: "loadtest")
	UserPrefix string
	// Seed makes the generated workload reproducible (default: 42)
	Seed int64
}

func (o *Options) setDefaults() {
	if o.Clients <= 0 {
		o.Clients = 10
	}
	if o.BatchesPerClient <= 0 {
		o.BatchesPerClient = 5
	}
	if o.OpsPerBatch <= 0 {
		o.OpsPerBatch = 10
	}
	if o.UserPrefix == "" {
		o.UserPrefix = "loadtest"
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
}

// LatencyStats captures performance metrics from a run.
type LatencyStats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
	P50  time.Duration // Median
	P95  time.Duration
	P99  time.Duration

	Batches       int
	Operations    int
	FailedOps     int
	BatchErrors   int
	TotalDuration time.Duration
}

// Throughput returns reconciled operations per second.
func (s *LatencyStats) Throughput() float64 {
	if s.TotalDuration <= 0 {
		return 0
	}
	return float64(s.Operations) / s.TotalDuration.Seconds()
}

// Run drives opts.Clients concurrent clients against sub and returns the
// batch latency statistics. Batch-level errors are counted, not returned.
func Run(ctx context.Context, sub Submitter, opts Options) (*LatencyStats, error) {
	opts.setDefaults()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations []time.Duration
		total     = &LatencyStats{}
	)

	start := time.Now()
	for i := 0; i < opts.Clients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()

			c := newClient(fmt.Sprintf("%s-%03d", opts.UserPrefix, clientID), opts.Seed+int64(clientID))
			local := make([]time.Duration, 0, opts.BatchesPerClient)
			var ops, failed, batchErrs int

			for j := 0; j < opts.BatchesPerClient; j++ {
				if ctx.Err() != nil {
					break
				}
				batch := c.nextBatch(opts.OpsPerBatch)

				t0 := time.Now()
				results, err := sub.Submit(ctx, c.userID, batch)
				local = append(local, time.Since(t0))

				if err != nil {
					batchErrs++
					continue
				}
				ops += len(results)
				failed += c.absorb(batch, results)
			}

			mu.Lock()
			durations = append(durations, local...)
			total.Operations += ops
			total.FailedOps += failed
			total.BatchErrors += batchErrs
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(durations) == 0 {
		return nil, fmt.Errorf("no batches completed")
	}

	stats := computeLatencyStats(durations)
	stats.Operations = total.Operations
	stats.FailedOps = total.FailedOps
	stats.BatchErrors = total.BatchErrors
	stats.TotalDuration = time.Since(start)
	return stats, nil
}

// client is one simulated device.
type client struct {
	userID string
	rng    *rand.Rand
	seq    int
	owned  []string // server ids this client created and has not deleted
}

var categories = []string{"Food", "Transport", "Housing", "Entertainment", "Health", "Other"}

func newClient(userID string, seed int64) *client {
	return &client{userID: userID, rng: rand.New(rand.NewSource(seed))}
}

// nextBatch generates n operations. Roughly 60% creates, 30% updates and
// 10% deletes once the client owns records; only creates before that.
func (c *client) nextBatch(n int) []schema.SyncOperation {
	ops := make([]schema.SyncOperation, 0, n)
	claimed := map[string]bool{}

	for i := 0; i < n; i++ {
		roll := c.rng.Intn(10)
		id := c.pick(claimed)

		switch {
		case id != "" && roll >= 9:
			claimed[id] = true
			ops = append(ops, schema.SyncOperation{Operation: schema.OpDelete, ID: id})
		case id != "" && roll >= 6:
			claimed[id] = true
			op := c.fields()
			op.Operation = schema.OpUpdate
			op.ID = id
			ops = append(ops, op)
		default:
			c.seq++
			op := c.fields()
			op.Operation = schema.OpCreate
			op.LocalID = fmt.Sprintf("%s-local-%d", c.userID, c.seq)
			ops = append(ops, op)
		}
	}
	return ops
}

func (c *client) pick(claimed map[string]bool) string {
	if len(c.owned) == 0 {
		return ""
	}
	id := c.owned[c.rng.Intn(len(c.owned))]
	if claimed[id] {
		return ""
	}
	return id
}

func (c *client) fields() schema.SyncOperation {
	cents := 100 + c.rng.Intn(20000)
	return schema.SyncOperation{
		Title:    fmt.Sprintf("Expense %d", c.rng.Intn(100000)),
		Amount:   decimal.New(int64(cents), -2),
		Category: categories[c.rng.Intn(len(categories))],
		Date:     time.Now().UTC().AddDate(0, 0, -c.rng.Intn(60)).Format("2006-01-02"),
	}
}

// absorb records server ids from successful creates, forgets deleted ids
// and returns the number of failed operations.
func (c *client) absorb(batch []schema.SyncOperation, results []expsync.Result) int {
	failed := 0
	for i, r := range results {
		if !r.Success {
			failed++
			continue
		}
		if i >= len(batch) {
			continue
		}
		switch batch[i].Operation {
		case schema.OpCreate:
			if id := resultID(r.Data); id != "" {
				c.owned = append(c.owned, id)
			}
		case schema.OpDelete:
			c.forget(batch[i].ID)
		}
	}
	return failed
}

func (c *client) forget(id string) {
	for i, owned := range c.owned {
		if owned == id {
			c.owned = append(c.owned[:i], c.owned[i+1:]...)
			return
		}
	}
}

// resultID extracts the server id from a result payload, which is a
// *schema.Expense in-process and a decoded JSON object over HTTP.
func resultID(data any) string {
	switch v := data.(type) {
	case *schema.Expense:
		return v.ID
	case map[string]any:
		id, _ := v["id"].(string)
		return id
	}
	return ""
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Mean:    sum / time.Duration(len(durations)),
		P50:     sorted[len(sorted)*50/100],
		P95:     sorted[len(sorted)*95/100],
		P99:     sorted[len(sorted)*99/100],
		Batches: len(durations),
	}
}

// PrintStats writes the statistics in a fixed layout.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Batches:       %d\n", s.Batches)
	fmt.Fprintf(w, "  Operations:    %d (%d failed)\n", s.Operations, s.FailedOps)
	fmt.Fprintf(w, "  Batch errors:  %d\n", s.BatchErrors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
	fmt.Fprintf(w, "  Throughput:    %.1f ops/s\n", s.Throughput())
}
