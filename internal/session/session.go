// Package session is the interaction layer: it turns user gestures (click,
// right-click, drag, hide, mode switch) into calls on the graph model, the
// expansion controller, the layout engine and the view projection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vyuha/vyuha-explorer/internal/expand"
	"github.com/vyuha/vyuha-explorer/internal/graph"
	"github.com/vyuha/vyuha-explorer/internal/layout"
	"github.com/vyuha/vyuha-explorer/internal/view"
)

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session: not found")
	// ErrNodeNotFound is returned when a gesture targets a node that is not
	// in the view.
	ErrNodeNotFound = errors.New("session: node not found")
)

// SSE event names published by sessions.
const (
	EventUpdated         = "session.updated"
	EventExpansionFailed = "expansion.failed"
	EventClosed          = "session.closed"
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Notifier pushes events to connected clients. The api SSE broadcaster
// satisfies it.
type Notifier interface {
	Notify(event string, data any)
}

// Observer receives timing and gauge updates. internal/metrics provides the
// Prometheus implementation.
type Observer interface {
	expand.Observer
	ObserveLayout(kind layout.Kind, elapsed time.Duration)
	SetActiveSessions(n int)
}

// Config holds the defaults every new session starts with.
type Config struct {
	Layout           layout.Kind
	LayoutOptions    layout.Options
	RelayoutOnExpand bool
	Expand           expand.Options
	IdleTTL          time.Duration
	SweepInterval    time.Duration
}

// DefaultConfig returns hierarchical layout, preserve-on-expand, limit 50
// and a 30 minute idle TTL.
func DefaultConfig() Config {
	return Config{
		Layout:        layout.KindHierarchical,
		LayoutOptions: layout.DefaultOptions(),
		Expand:        expand.Options{Limit: 50},
		IdleTTL:       30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// ---------------------------------------------------------------------------
// View types
// ---------------------------------------------------------------------------

// View is what a renderer needs to draw one session.
type View struct {
	SessionID string          `json:"sessionId"`
	Layout    layout.Kind     `json:"layout"`
	Selected  string          `json:"selected,omitempty"`
	State     expand.State    `json:"state"`
	LastError string          `json:"lastError,omitempty"`
	Filter    view.Filter     `json:"filter"`
	Total     TotalCounts     `json:"total"`
	Visible   view.Projection `json:"visible"`
}

// TotalCounts are model sizes before filtering.
type TotalCounts struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// MenuOption is one entry of the right-click expansion menu.
type MenuOption struct {
	Action   string `json:"action"`
	Label    string `json:"label"`
	Semantic bool   `json:"semantic,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// Menu describes what the user can do with a node.
type Menu struct {
	NodeID   string       `json:"nodeId"`
	Label    string       `json:"label"`
	Expanded bool         `json:"expanded"`
	InFlight bool         `json:"inFlight"`
	Options  []MenuOption `json:"options"`
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// Session is one interactive exploration view. The model is owned by the
// session; callers only ever see snapshots and projections.
//
// Layout, filter and selection changes are serialised by mu. Fetches run
// without it, so a slow upstream never blocks View.
type Session struct {
	ID        string
	CreatedAt time.Time

	model    *graph.Graph
	ctrl     *expand.Controller
	notifier Notifier
	observer Observer
	logger   *slog.Logger

	mu               sync.Mutex
	kind             layout.Kind
	opts             layout.Options
	relayoutOnExpand bool
	expandDefaults   expand.Options
	filter           view.Filter
	selected         string
	lastUsed         time.Time
}

// New creates an empty session bound to fetcher.
func New(id string, fetcher expand.Fetcher, cfg Config, notifier Notifier, observer Observer) *Session {
	if cfg.Layout == 0 {
		cfg.Layout = layout.KindHierarchical
	}
	logger := slog.Default().With("session", id)
	model := graph.NewGraph()

	ctrlOpts := []expand.Option{expand.WithLogger(logger)}
	if observer != nil {
		ctrlOpts = append(ctrlOpts, expand.WithObserver(observer))
	}

	now := time.Now().UTC()
	return &Session{
		ID:               id,
		CreatedAt:        now,
		model:            model,
		ctrl:             expand.NewController(model, fetcher, ctrlOpts...),
		notifier:         notifier,
		observer:         observer,
		logger:           logger,
		kind:             cfg.Layout,
		opts:             cfg.LayoutOptions,
		relayoutOnExpand: cfg.RelayoutOnExpand,
		expandDefaults:   cfg.Expand,
		filter:           view.DefaultFilter(),
		lastUsed:         now,
	}
}

// ============================ EXPANSION ==================================

// Load clears the view and runs the initial batch expansion for seeds.
func (s *Session) Load(ctx context.Context, seeds []string, opts expand.Options) (expand.Result, error) {
	s.touch()
	s.ctrl.Reset()
	s.mu.Lock()
	s.selected = ""
	s.mu.Unlock()
	return s.AddSeeds(ctx, seeds, opts)
}

// AddSeeds runs a batch expansion without clearing the view. Existing node
// positions are kept.
func (s *Session) AddSeeds(ctx context.Context, seeds []string, opts expand.Options) (expand.Result, error) {
	s.touch()
	res, err := s.ctrl.ExpandSeeds(ctx, seeds, s.withDefaults(opts))
	return s.afterExpansion(res, err)
}

// Expand expands one node of the view, as a click in the expand menu does.
func (s *Session) Expand(ctx context.Context, nodeID string, opts expand.Options) (expand.Result, error) {
	s.touch()
	if !s.model.HasNode(nodeID) {
		return expand.Result{}, fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	res, err := s.ctrl.ExpandNode(ctx, nodeID, s.withDefaults(opts))
	return s.afterExpansion(res, err)
}

func (s *Session) withDefaults(opts expand.Options) expand.Options {
	if opts.Limit <= 0 {
		opts.Limit = s.expandDefaults.Limit
	}
	return opts
}

// afterExpansion lays out merged data and notifies listeners.
func (s *Session) afterExpansion(res expand.Result, err error) (expand.Result, error) {
	if err != nil {
		if errors.Is(err, expand.ErrFetchFailed) {
			s.notify(EventExpansionFailed, map[string]any{
				"sessionId": s.ID,
				"seedIds":   res.SeedIDs,
				"error":     err.Error(),
			})
		}
		return res, err
	}
	if res.Status != expand.StatusMerged {
		return res, nil
	}

	s.mu.Lock()
	s.relayoutLocked(!s.relayoutOnExpand)
	s.mu.Unlock()

	s.notify(EventUpdated, map[string]any{
		"sessionId":  s.ID,
		"reason":     "expanded",
		"seedIds":    res.SeedIDs,
		"addedNodes": res.AddedNodes,
		"addedEdges": res.AddedEdges,
	})
	return res, nil
}

// Clear drops every node, edge and pending fetch.
func (s *Session) Clear() {
	s.touch()
	s.ctrl.Reset()
	s.mu.Lock()
	s.selected = ""
	s.mu.Unlock()
	s.notify(EventUpdated, map[string]any{"sessionId": s.ID, "reason": "cleared"})
}

// ============================ GESTURES ===================================

// Select marks nodeID as the current selection (left click).
func (s *Session) Select(nodeID string) (graph.Node, error) {
	s.touch()
	n, ok := s.model.GetNode(nodeID)
	if !ok {
		return graph.Node{}, fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	s.mu.Lock()
	s.selected = nodeID
	s.mu.Unlock()
	return n, nil
}

// ExpandMenu describes the right-click menu for nodeID.
func (s *Session) ExpandMenu(nodeID string) (Menu, error) {
	s.touch()
	n, ok := s.model.GetNode(nodeID)
	if !ok {
		return Menu{}, fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	expanded := s.model.HasExpanded(nodeID)
	inFlight := s.ctrl.InFlight(nodeID)
	canExpand := !expanded && !inFlight

	return Menu{
		NodeID:   nodeID,
		Label:    n.DisplayLabel(),
		Expanded: expanded,
		InFlight: inFlight,
		Options: []MenuOption{
			{Action: "expand", Label: "Expand relationships", Enabled: canExpand},
			{Action: "expand", Label: "Expand with similar entities", Semantic: true, Enabled: canExpand},
			{Action: "hide", Label: "Hide node", Enabled: !inFlight},
		},
	}, nil
}

// Drag moves nodeID to pos and pins it there. Later layout passes leave a
// pinned node alone.
func (s *Session) Drag(nodeID string, pos graph.Position) error {
	s.touch()
	if !s.model.Pin(nodeID, pos) {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	s.notify(EventUpdated, map[string]any{"sessionId": s.ID, "reason": "moved", "nodeId": nodeID})
	return nil
}

// Release removes the manual override on nodeID. Its position is kept
// until the next full layout pass.
func (s *Session) Release(nodeID string) error {
	s.touch()
	if !s.model.Unpin(nodeID) {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	return nil
}

// Hide removes nodeID and every edge touching it from the view. It returns
// the number of edges removed.
func (s *Session) Hide(nodeID string) (int, error) {
	s.touch()
	removed, ok := s.model.RemoveNode(nodeID)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	s.mu.Lock()
	if s.selected == nodeID {
		s.selected = ""
	}
	s.mu.Unlock()
	s.notify(EventUpdated, map[string]any{"sessionId": s.ID, "reason": "hidden", "nodeId": nodeID})
	return removed, nil
}

// ============================ LAYOUT =====================================

// SetLayout switches the algorithm and recomputes positions for the whole
// graph.
func (s *Session) SetLayout(mode string) error {
	s.touch()
	kind, err := layout.ParseKind(mode)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.kind = kind
	s.relayoutLocked(false)
	s.mu.Unlock()
	s.notify(EventUpdated, map[string]any{"sessionId": s.ID, "reason": "layout", "layout": kind})
	return nil
}

// Relayout recomputes positions for the whole graph with the current
// algorithm. Pinned nodes stay put.
func (s *Session) Relayout() {
	s.touch()
	s.mu.Lock()
	s.relayoutLocked(false)
	s.mu.Unlock()
	s.notify(EventUpdated, map[string]any{"sessionId": s.ID, "reason": "layout"})
}

// relayoutLocked runs the layout engine over a snapshot and writes the
// result back. Caller MUST hold s.mu.
func (s *Session) relayoutLocked(preserve bool) {
	snap := s.model.Snapshot()
	opts := s.opts
	opts.Preserve = preserve

	start := time.Now()
	placed := layout.Compute(s.kind, snap.Nodes, snap.Edges, opts)
	elapsed := time.Since(start)

	s.model.ApplyPositions(layout.Positions(placed))
	if s.observer != nil {
		s.observer.ObserveLayout(s.kind, elapsed)
	}
	s.logger.Debug("layout computed",
		"kind", s.kind.String(),
		"preserve", preserve,
		"nodes", len(snap.Nodes),
		"edges", len(snap.Edges),
		"elapsed", elapsed,
	)
}

// ============================ FILTER & VIEW ==============================

// SetFilter replaces the visibility filter.
func (s *Session) SetFilter(f view.Filter) error {
	s.touch()
	if err := f.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
	return nil
}

// Filter returns the active filter.
func (s *Session) Filter() view.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// View projects the current model through the active filter.
func (s *Session) View() View {
	s.touch()
	s.mu.Lock()
	f, kind, selected := s.filter, s.kind, s.selected
	s.mu.Unlock()

	snap := s.model.Snapshot()
	state, lastErr := s.ctrl.State()
	v := View{
		SessionID: s.ID,
		Layout:    kind,
		Selected:  selected,
		State:     state,
		Filter:    f,
		Total:     TotalCounts{Nodes: len(snap.Nodes), Edges: len(snap.Edges)},
		Visible:   view.Project(snap, f),
	}
	if lastErr != nil {
		v.LastError = lastErr.Error()
	}
	return v
}

// Stats returns model statistics.
func (s *Session) Stats() graph.Stats {
	return s.model.Stats()
}

// Close cancels pending fetches so their results are discarded.
func (s *Session) Close() {
	s.ctrl.Cancel()
}

// ---------------------------------------------------------------------------
// Bookkeeping
// ---------------------------------------------------------------------------

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now().UTC()
	s.mu.Unlock()
}

// LastUsed returns the time of the most recent interaction.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) notify(event string, data any) {
	if s.notifier != nil {
		s.notifier.Notify(event, data)
	}
}
