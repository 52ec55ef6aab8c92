// Package expand fetches seed neighbourhoods and merges them into a
// graph.Graph without duplicates.
//
// Each expansion moves through Idle → Fetching → Merged | Failed. A
// generation counter, bumped by Reset and Cancel, makes the controller
// discard any response that arrives after the view it was meant for has
// gone away.
package expand

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vyuha/vyuha-explorer/internal/graph"
)

var (
	// ErrNoSeeds is returned when an expansion is requested without ids.
	ErrNoSeeds = errors.New("expand: no seed ids")
	// ErrFetchFailed wraps every error returned by the Fetcher.
	ErrFetchFailed = errors.New("expand: fetch failed")
	// ErrExpansionInFlight rejects a request overlapping a pending one.
	ErrExpansionInFlight = errors.New("expand: expansion already in flight")
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Fetcher issues one neighbourhood request for a batch of seeds.
type Fetcher interface {
	Fetch(ctx context.Context, req graph.ExpandRequest) (*graph.ExpandResponse, error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context, req graph.ExpandRequest) (*graph.ExpandResponse, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req graph.ExpandRequest) (*graph.ExpandResponse, error) {
	return f(ctx, req)
}

// Observer is notified after every expansion that reached the fetcher.
// internal/metrics provides the Prometheus implementation.
type Observer interface {
	ObserveExpansion(status Status, elapsed time.Duration, merged graph.MergeResult)
}

// ---------------------------------------------------------------------------
// States and results
// ---------------------------------------------------------------------------

// State is the lifecycle position of the most recent expansion.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateMerged
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateMerged:
		return "merged"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status classifies the outcome of one expansion.
type Status int

const (
	// StatusMerged means the model gained at least one node or edge.
	StatusMerged Status = iota + 1
	// StatusNoNewNeighbors means nothing was added: the fetch returned only
	// known data, or the node had already been expanded and no fetch ran.
	StatusNoNewNeighbors
	// StatusFailed means the fetch failed and the model is unchanged.
	StatusFailed
	// StatusStale means the response arrived after Reset or Cancel and was
	// discarded.
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusMerged:
		return "merged"
	case StatusNoNewNeighbors:
		return "no_new_neighbors"
	case StatusFailed:
		return "failed"
	case StatusStale:
		return "stale"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Options are the per-request knobs forwarded to the fetcher.
type Options struct {
	IncludeSemantic bool `json:"semantic"`
	Limit           int  `json:"limit" validate:"gte=0,lte=500"`
}

// Result reports what one expansion did to the model.
type Result struct {
	Status       Status        `json:"status"`
	SeedIDs      []string      `json:"seedIds"`
	AddedNodes   int           `json:"addedNodes"`
	AddedEdges   int           `json:"addedEdges"`
	DroppedEdges int           `json:"droppedEdges"`
	Rejected     int           `json:"rejected"` // DTOs that could not be converted
	Fetched      bool          `json:"fetched"`
	Elapsed      time.Duration `json:"elapsedNs"`

	// Merged lists what was actually added, for layout anchoring.
	Merged graph.MergeResult `json:"-"`
}

// ---------------------------------------------------------------------------
// Controller
// ---------------------------------------------------------------------------

// Controller orchestrates fetch and merge for one Graph.
type Controller struct {
	model    *graph.Graph
	fetcher  Fetcher
	observer Observer
	logger   *slog.Logger

	mu         sync.Mutex
	generation uint64
	inFlight   map[string]uint64 // seed id → generation of the pending fetch
	state      State
	lastErr    error
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers an expansion observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController binds a controller to model and fetcher.
func NewController(model *graph.Graph, fetcher Fetcher, opts ...Option) *Controller {
	c := &Controller{
		model:    model,
		fetcher:  fetcher,
		logger:   slog.Default(),
		inFlight: make(map[string]uint64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the lifecycle position of the most recent expansion and the
// error it failed with, if any.
func (c *Controller) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastErr
}

// Generation returns the current generation counter.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// InFlight reports whether a fetch covering id is pending.
func (c *Controller) InFlight(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[id]
	return ok
}

// Cancel makes every pending fetch stale without touching the model.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.inFlight = make(map[string]uint64)
	c.state = StateIdle
	c.lastErr = nil
}

// Reset cancels pending fetches and empties the model.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.inFlight = make(map[string]uint64)
	c.state = StateIdle
	c.lastErr = nil
	c.model.Reset()
}

// ExpandSeeds runs the initial batch load. It always fetches, even for
// seeds already expanded, and issues a single request for the whole batch.
func (c *Controller) ExpandSeeds(ctx context.Context, seedIDs []string, opts Options) (Result, error) {
	seeds := normaliseSeeds(seedIDs)
	if len(seeds) == 0 {
		return Result{}, ErrNoSeeds
	}
	return c.run(ctx, seeds, opts)
}

// ExpandNode expands a single node interactively. A node that has already
// been expanded yields StatusNoNewNeighbors without a fetch.
func (c *Controller) ExpandNode(ctx context.Context, nodeID string, opts Options) (Result, error) {
	seeds := normaliseSeeds([]string{nodeID})
	if len(seeds) == 0 {
		return Result{}, ErrNoSeeds
	}
	if c.model.HasExpanded(seeds[0]) {
		return Result{Status: StatusNoNewNeighbors, SeedIDs: seeds}, nil
	}
	return c.run(ctx, seeds, opts)
}

func (c *Controller) run(ctx context.Context, seeds []string, opts Options) (Result, error) {
	gen, err := c.begin(seeds)
	if err != nil {
		return Result{SeedIDs: seeds}, err
	}
	defer c.finish(seeds, gen)

	start := time.Now()
	req := graph.ExpandRequest{SeedIDs: seeds, Semantic: opts.IncludeSemantic, Limit: opts.Limit}
	resp, fetchErr := c.fetcher.Fetch(ctx, req)

	res := Result{SeedIDs: seeds, Fetched: true}

	// Merge under c.mu so Reset cannot interleave between the generation
	// check and the model update.
	c.mu.Lock()
	defer c.mu.Unlock()
	res.Elapsed = time.Since(start)

	if gen != c.generation {
		res.Status = StatusStale
		c.logger.Debug("expansion discarded", "seeds", seeds, "generation", gen, "current", c.generation)
		c.observe(res)
		return res, nil
	}

	if fetchErr == nil && resp == nil {
		fetchErr = errors.New("empty response")
	}
	if fetchErr != nil {
		res.Status = StatusFailed
		c.state = StateFailed
		c.lastErr = fmt.Errorf("%w: seeds %v: %w", ErrFetchFailed, seeds, fetchErr)
		c.logger.Warn("expansion failed", "seeds", seeds, "error", fetchErr)
		c.observe(res)
		return res, c.lastErr
	}

	nodes, edges, rejected := resp.Delta()
	merged := c.model.MergeDelta(nodes, edges)
	for _, id := range seeds {
		c.model.MarkExpanded(id)
		c.model.MarkSeed(id)
	}

	res.Merged = merged
	res.AddedNodes = len(merged.AddedNodes)
	res.AddedEdges = len(merged.AddedEdges)
	res.DroppedEdges = merged.DroppedEdges
	res.Rejected = rejected
	if merged.Empty() {
		res.Status = StatusNoNewNeighbors
	} else {
		res.Status = StatusMerged
	}
	c.state = StateMerged
	c.lastErr = nil

	if merged.DroppedEdges > 0 || rejected > 0 {
		c.logger.Debug("expansion dropped edges",
			"seeds", seeds, "dangling", merged.DroppedEdges, "rejected", rejected)
	}
	c.logger.Info("expansion merged",
		"seeds", seeds,
		"status", res.Status.String(),
		"added_nodes", res.AddedNodes,
		"added_edges", res.AddedEdges,
		"elapsed", res.Elapsed,
	)
	c.observe(res)
	return res, nil
}

// begin registers seeds as in flight, rejecting any overlap.
func (c *Controller) begin(seeds []string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range seeds {
		if _, busy := c.inFlight[id]; busy {
			return 0, fmt.Errorf("%w: %q", ErrExpansionInFlight, id)
		}
	}
	for _, id := range seeds {
		c.inFlight[id] = c.generation
	}
	c.state = StateFetching
	return c.generation, nil
}

// finish releases the seeds registered by begin, unless a later Reset or
// Cancel already replaced them.
func (c *Controller) finish(seeds []string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range seeds {
		if g, ok := c.inFlight[id]; ok && g == gen {
			delete(c.inFlight, id)
		}
	}
}

// observe must be called with c.mu held.
func (c *Controller) observe(res Result) {
	if c.observer != nil {
		c.observer.ObserveExpansion(res.Status, res.Elapsed, res.Merged)
	}
}

// normaliseSeeds trims ids, drops empties and removes duplicates while
// keeping the caller's order.
func normaliseSeeds(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
