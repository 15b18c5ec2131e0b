package ranking

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/feedrank/internal/content"
	"github.com/onnwee/feedrank/internal/profile"
)

// Strategy names reported in results and metrics.
const (
	StrategyPersonalized = "personalized"
	StrategyFallback     = "fallback"
)

// FallbackReason explains why the fallback strategy was selected.
type FallbackReason string

// Fallback reasons.
const (
	FallbackNone               FallbackReason = ""
	FallbackAnonymous          FallbackReason = "anonymous"
	FallbackViewerNotFound     FallbackReason = "viewer_not_found"
	FallbackProfileUnavailable FallbackReason = "profile_unavailable"
)

// Strategy scores a candidate set.
type Strategy interface {
	Name() string
	// Filter returns the visibility filter candidates must be retrieved with.
	Filter(viewerID string, viewer *profile.Viewer) content.Filter
	// Score returns one candidate per item, in item order.
	Score(ctx context.Context, items []content.Item, viewer *profile.Viewer, now time.Time) ([]Candidate, error)
}

// PersonalizedStrategy scores with every signal of the viewer's profile.
type PersonalizedStrategy struct {
	scorer  *Scorer
	workers int
}

// NewPersonalizedStrategy creates a PersonalizedStrategy. workers <= 1 scores sequentially.
func NewPersonalizedStrategy(scorer *Scorer, workers int) *PersonalizedStrategy {
	return &PersonalizedStrategy{scorer: scorer, workers: workers}
}

// Name implements Strategy.
func (s *PersonalizedStrategy) Name() string { return StrategyPersonalized }

// Filter implements Strategy.
func (s *PersonalizedStrategy) Filter(viewerID string, viewer *profile.Viewer) content.Filter {
	return content.NewFilter(viewerID, viewer.FollowedList())
}

// Score implements Strategy.
func (s *PersonalizedStrategy) Score(ctx context.Context, items []content.Item, viewer *profile.Viewer, now time.Time) ([]Candidate, error) {
	return scoreAll(ctx, s.scorer, items, viewer, now, s.workers)
}

// FallbackStrategy ranks on engagement and recency only.
type FallbackStrategy struct {
	scorer  *Scorer
	workers int
}

// NewFallbackStrategy creates a FallbackStrategy. workers <= 1 scores sequentially.
func NewFallbackStrategy(scorer *Scorer, workers int) *FallbackStrategy {
	return &FallbackStrategy{scorer: scorer, workers: workers}
}

// Name implements Strategy.
func (s *FallbackStrategy) Name() string { return StrategyFallback }

// Filter implements Strategy. Without a profile only the viewer's own items
// and public items are admitted; an empty viewer id admits public items only.
func (s *FallbackStrategy) Filter(viewerID string, _ *profile.Viewer) content.Filter {
	if viewerID == "" {
		return content.PublicFilter()
	}
	return content.NewFilter(viewerID, nil)
}

// Score implements Strategy. The viewer is ignored.
func (s *FallbackStrategy) Score(ctx context.Context, items []content.Item, _ *profile.Viewer, now time.Time) ([]Candidate, error) {
	return scoreAll(ctx, s.scorer, items, nil, now, s.workers)
}

// Policy selects between the personalized and fallback strategies.
//
// Anonymous requests and unknown viewers always fall back. Other profile
// errors fall back with FallbackProfileUnavailable unless StrictProfileErrors
// is set, in which case they are returned to the caller.
type Policy struct {
	StrictProfileErrors bool
}

// Select returns the fallback reason for a profile lookup outcome, or
// FallbackNone when personalization can proceed. A non-nil error means the
// request must fail.
func (p Policy) Select(viewerID string, profileErr error) (FallbackReason, error) {
	switch {
	case viewerID == "":
		return FallbackAnonymous, nil
	case profileErr == nil:
		return FallbackNone, nil
	case errors.Is(profileErr, profile.ErrViewerNotFound):
		return FallbackViewerNotFound, nil
	case p.StrictProfileErrors:
		return FallbackNone, profileErr
	default:
		return FallbackProfileUnavailable, nil
	}
}

// scoreAll scores items, fanning out over at most workers goroutines.
// Output order matches input order regardless of parallelism.
func scoreAll(ctx context.Context, scorer *Scorer, items []content.Item, viewer *profile.Viewer, now time.Time, workers int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Candidate, len(items))
	if workers <= 1 || len(items) < 2*workers {
		for i := range items {
			out[i] = scorer.NewCandidate(items[i], viewer, now)
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	chunk := (len(items) + workers - 1) / workers
	for start := 0; start < len(items); start += chunk {
		end := min(start+chunk, len(items))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				out[i] = scorer.NewCandidate(items[i], viewer, now)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
