package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/feedrank/internal/content"
	"github.com/onnwee/feedrank/internal/profile"
	"github.com/onnwee/feedrank/internal/tracing"
)

// ErrViewerNotFound is returned by RankPersonalized for unknown or anonymous viewers.
// It matches profile.ErrViewerNotFound with errors.Is.
var ErrViewerNotFound = profile.ErrViewerNotFound

// CandidateSource returns the visible candidate window for a filter.
// *content.Retriever implements it.
type CandidateSource interface {
	Retrieve(ctx context.Context, filter content.Filter) ([]content.Item, error)
}

// Request is one ranking request.
type Request struct {
	ViewerID string // empty for anonymous requests
	Page     int
	PageSize int
	Now      time.Time // zero means the engine clock
}

// Result is a ranked page plus how it was produced.
type Result struct {
	Page
	Strategy string
	// Degraded is set when personalization was wanted but could not be
	// applied: the viewer is unknown or the profile store failed.
	Degraded       bool
	FallbackReason FallbackReason
}

// Engine runs the ranking pipeline: resolve profile, retrieve candidates,
// score, sort, paginate and explain. It holds no per-request state and is
// safe for concurrent use.
type Engine struct {
	profiles   profile.Store
	candidates CandidateSource

	weights      *Weights
	explainer    *Explainer
	personalized Strategy
	fallback     Strategy
	policy       Policy

	workers int
	clock   func() time.Time
	metrics *Metrics
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithWeights sets the scoring weights. Defaults to DefaultWeights.
func WithWeights(w *Weights) Option {
	return func(e *Engine) {
		if w != nil {
			e.weights = w
		}
	}
}

// WithPolicy sets the strategy selection policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithWorkers sets how many goroutines score one request. Values <= 1 score sequentially.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithClock sets the clock used when a request carries no time.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a ranking Engine.
func NewEngine(profiles profile.Store, candidates CandidateSource, opts ...Option) *Engine {
	e := &Engine{
		profiles:   profiles,
		candidates: candidates,
		weights:    DefaultWeights(),
		workers:    1,
		clock:      time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	scorer := NewScorer(e.weights)
	e.explainer = NewExplainer(e.weights)
	e.personalized = NewPersonalizedStrategy(scorer, e.workers)
	e.fallback = NewFallbackStrategy(scorer, e.workers)
	return e
}

// Weights returns the engine's scoring weights.
func (e *Engine) Weights() Weights { return *e.weights }

// Rank produces a ranked page for the request. Unknown viewers, anonymous
// requests and profile store failures are served by the fallback strategy
// over the same candidate window; Result reports which strategy ran.
func (e *Engine) Rank(ctx context.Context, req Request) (*Result, error) {
	return e.rank(ctx, req, false)
}

// RankPersonalized is like Rank but never falls back: it returns
// ErrViewerNotFound for unknown or anonymous viewers and any profile error as is.
func (e *Engine) RankPersonalized(ctx context.Context, req Request) (*Result, error) {
	return e.rank(ctx, req, true)
}

func (e *Engine) rank(ctx context.Context, req Request, strict bool) (res *Result, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "ranking.rank")
	defer func() { endSpan(err) }()

	started := time.Now()
	pageReq := PageRequest{Page: req.Page, PageSize: req.PageSize}
	if err := pageReq.Validate(); err != nil {
		e.metrics.incError(StageValidate)
		return nil, err
	}

	now := req.Now
	if now.IsZero() {
		now = e.clock()
	}

	viewer, reason, err := e.resolve(ctx, req.ViewerID, strict)
	if err != nil {
		e.metrics.incError(StageProfile)
		return nil, err
	}

	strategy := e.personalized
	if reason != FallbackNone {
		strategy = e.fallback
	}
	tracing.SetAttributes(ctx,
		attribute.String("ranking.strategy", strategy.Name()),
		attribute.String("ranking.fallback_reason", string(reason)),
		attribute.String("ranking.variant", e.weights.Variant),
	)
	if reason != FallbackNone {
		tracing.AddEvent(ctx, "fallback_selected", attribute.String("reason", string(reason)))
	}

	items, err := e.retrieve(ctx, strategy.Filter(req.ViewerID, viewer))
	if err != nil {
		e.metrics.incError(StageRetrieve)
		return nil, err
	}

	candidates, err := e.score(ctx, strategy, items, viewer, now)
	if err != nil {
		e.metrics.incError(StageScore)
		return nil, err
	}

	SortCandidates(candidates)
	page, err := Paginate(candidates, pageReq, e.explainer)
	if err != nil {
		e.metrics.incError(StagePaginate)
		return nil, err
	}

	res = &Result{
		Page:           page,
		Strategy:       strategy.Name(),
		Degraded:       reason == FallbackViewerNotFound || reason == FallbackProfileUnavailable,
		FallbackReason: reason,
	}

	e.metrics.observeRanking(res.Strategy, e.weights.Variant, reason, len(candidates), time.Since(started).Seconds())
	e.logger.DebugContext(ctx, "ranked feed",
		slog.String("viewer_id", req.ViewerID),
		slog.String("strategy", res.Strategy),
		slog.String("fallback_reason", string(reason)),
		slog.Int("candidates", len(candidates)),
		slog.Int("page", page.Page),
		slog.Int("returned", len(page.Items)),
		slog.Bool("has_more", page.HasMore))

	return res, nil
}

// resolve loads the viewer profile and decides whether personalization applies.
func (e *Engine) resolve(ctx context.Context, viewerID string, strict bool) (viewer *profile.Viewer, reason FallbackReason, err error) {
	if viewerID == "" {
		if strict {
			return nil, FallbackNone, ErrViewerNotFound
		}
		return nil, FallbackAnonymous, nil
	}

	ctx, endSpan := tracing.StartSpan(ctx, "ranking.resolve_profile")
	viewer, profileErr := e.profiles.FetchViewerProfile(ctx, viewerID)
	endSpan(profileErr)

	if strict {
		if profileErr != nil {
			return nil, FallbackNone, fmt.Errorf("failed to resolve viewer profile: %w", profileErr)
		}
		return viewer, FallbackNone, nil
	}

	// A cancelled request is not a profile outage.
	if profileErr != nil && ctx.Err() != nil {
		return nil, FallbackNone, ctx.Err()
	}

	reason, err = e.policy.Select(viewerID, profileErr)
	if err != nil {
		return nil, FallbackNone, fmt.Errorf("failed to resolve viewer profile: %w", err)
	}
	if reason == FallbackProfileUnavailable {
		e.logger.WarnContext(ctx, "profile unavailable, serving unpersonalized feed",
			slog.String("viewer_id", viewerID),
			slog.String("error", profileErr.Error()))
	}
	if reason != FallbackNone {
		return nil, reason, nil
	}
	return viewer, FallbackNone, nil
}

func (e *Engine) retrieve(ctx context.Context, filter content.Filter) (items []content.Item, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "ranking.retrieve")
	defer func() { endSpan(err) }()

	items, err = e.candidates.Retrieve(ctx, filter)
	if err != nil {
		return nil, err
	}
	tracing.SetAttributes(ctx, attribute.Int("ranking.candidates", len(items)))
	return items, nil
}

func (e *Engine) score(ctx context.Context, s Strategy, items []content.Item, viewer *profile.Viewer, now time.Time) (cs []Candidate, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "ranking.score")
	defer func() { endSpan(err) }()
	return s.Score(ctx, items, viewer, now)
}
