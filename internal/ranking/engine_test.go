package ranking

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/onnwee/feedrank/internal/content"
	"github.com/onnwee/feedrank/internal/profile"
)

// countingSource records how often candidates are retrieved.
type countingSource struct {
	inner CandidateSource
	calls atomic.Int32
	err   error
}

func (c *countingSource) Retrieve(ctx context.Context, f content.Filter) ([]content.Item, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Retrieve(ctx, f)
}

// failingProfiles always fails with err.
type failingProfiles struct{ err error }

func (f failingProfiles) FetchViewerProfile(context.Context, string) (*profile.Viewer, error) {
	return nil, f.err
}

type fixture struct {
	items    *content.InMemoryStore
	profiles *profile.InMemoryStore
	source   *countingSource
}

func newFixture() *fixture {
	items := content.NewInMemoryStore()
	return &fixture{
		items:    items,
		profiles: profile.NewInMemoryStore(),
		source:   &countingSource{inner: content.NewRetriever(items, 0, nil)},
	}
}

func (f *fixture) engine(opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewEngine(f.profiles, f.source, opts...)
}

func (f *fixture) put(id, author string, e content.Engagement, age time.Duration, tags ...string) {
	f.items.Put(content.Item{
		ID:         id,
		AuthorID:   author,
		Visibility: content.VisibilityPublic,
		Moderation: content.ModerationApproved,
		Engagement: e,
		Tags:       tags,
		CreatedAt:  testNow.Add(-age),
	})
}

func findItem(t *testing.T, res *Result, id string) RankedItem {
	t.Helper()
	for _, it := range res.Items {
		if it.Item.ID == id {
			return it
		}
	}
	t.Fatalf("item %s not in result", id)
	return RankedItem{}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// TestEngine_FollowedFreshVersusEngagedStale ranks a fresh item from a
// followed author against a stale, highly engaged item from a stranger.
//
// X: 2*2 + 1*3 = 7 engagement, 47 recency, 40 social  = 94
// Y: 20*2 + 10*3 = 70 engagement, 1 recency            = 71
func TestEngine_FollowedFreshVersusEngagedStale(t *testing.T) {
	f := newFixture()
	f.profiles.PutUser("viewer", nil, nil)
	f.profiles.Follow("viewer", "A")
	f.put("X", "A", content.Engagement{Likes: 2, Comments: 1}, time.Hour)
	f.put("Y", "B", content.Engagement{Likes: 20, Comments: 10}, 47*time.Hour)

	res, err := f.engine().Rank(context.Background(), Request{ViewerID: "viewer", Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}

	x, y := findItem(t, res, "X"), findItem(t, res, "Y")
	if !approxEqual(x.Score, 94) || !approxEqual(y.Score, 71) {
		t.Errorf("unexpected scores: X=%g Y=%g", x.Score, y.Score)
	}
	if x.Breakdown.Engagement != 7 || y.Breakdown.Engagement != 70 {
		t.Errorf("unexpected engagement: X=%g Y=%g", x.Breakdown.Engagement, y.Breakdown.Engagement)
	}
	if res.Items[0].Item.ID != "X" {
		t.Errorf("expected X first, got %s", res.Items[0].Item.ID)
	}
	if !x.FollowingAuthor || y.FollowingAuthor {
		t.Errorf("unexpected following flags: X=%v Y=%v", x.FollowingAuthor, y.FollowingAuthor)
	}
	if !contains(x.Reasons, ReasonFollowing) {
		t.Errorf("X reasons should include %q: %v", ReasonFollowing, x.Reasons)
	}
	if contains(y.Reasons, ReasonFollowing) {
		t.Errorf("Y reasons should not include %q: %v", ReasonFollowing, y.Reasons)
	}
	if !contains(y.Reasons, ReasonHighEngagement) {
		t.Errorf("Y reasons should include %q: %v", ReasonHighEngagement, y.Reasons)
	}
	if res.Strategy != StrategyPersonalized || res.Degraded {
		t.Errorf("expected non-degraded personalized result, got %+v", res)
	}
}

// TestEngine_EngagementOutweighsSocialOnceFresherItemAges shows engagement
// winning over the social boost when the followed item is no longer fresh.
func TestEngine_EngagementOutweighsSocialOnceFresherItemAges(t *testing.T) {
	f := newFixture()
	f.profiles.PutUser("viewer", nil, nil)
	f.profiles.Follow("viewer", "A")
	f.put("X", "A", content.Engagement{Likes: 2, Comments: 1}, 30*time.Hour)
	f.put("Y", "B", content.Engagement{Likes: 20, Comments: 10}, 47*time.Hour)

	res, err := f.engine().Rank(context.Background(), Request{ViewerID: "viewer", Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if res.Items[0].Item.ID != "Y" {
		t.Errorf("expected Y (71) above X (65), got %s first", res.Items[0].Item.ID)
	}
}

// TestEngine_LastPartialPage covers 25 visible candidates, page 3 of size 10.
func TestEngine_LastPartialPage(t *testing.T) {
	f := newFixture()
	for i := 1; i <= 25; i++ {
		f.put(fmt.Sprintf("item-%02d", i), "author", content.Engagement{Likes: int64(100 - i)}, time.Hour)
	}

	res, err := f.engine().Rank(context.Background(), Request{Page: 3, PageSize: 10})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(res.Items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(res.Items))
	}
	if res.Items[0].Item.ID != "item-21" || res.Items[4].Item.ID != "item-25" {
		t.Errorf("expected items 21-25, got %s..%s", res.Items[0].Item.ID, res.Items[4].Item.ID)
	}
	if res.HasMore {
		t.Error("expected HasMore=false")
	}
}

func TestEngine_Deterministic(t *testing.T) {
	f := newFixture()
	seedMixed(f, rand.New(rand.NewSource(7)), 120)
	f.profiles.PutUser("viewer", []string{"go"}, []string{"databases"})
	f.profiles.Follow("viewer", "author-1")
	f.profiles.Save("viewer", "item-010")

	e := f.engine()
	req := Request{ViewerID: "viewer", Page: 1, PageSize: 50, Now: testNow}
	first, err := e.Rank(context.Background(), req)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	second, err := e.Rank(context.Background(), req)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated rankings differ")
	}
}

// TestEngine_ParallelScoringMatchesSequential verifies worker count never changes output.
func TestEngine_ParallelScoringMatchesSequential(t *testing.T) {
	f := newFixture()
	seedMixed(f, rand.New(rand.NewSource(11)), 200)
	f.profiles.PutUser("viewer", []string{"go", "rust"}, nil)
	f.profiles.Follow("viewer", "author-2")

	req := Request{ViewerID: "viewer", Page: 1, PageSize: 200}
	seq, err := f.engine().Rank(context.Background(), req)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	par, err := f.engine(WithWorkers(8)).Rank(context.Background(), req)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if !reflect.DeepEqual(seq, par) {
		t.Error("parallel scoring changed the result")
	}
}

// TestEngine_NeverReturnsHiddenItems checks every page for every viewer
// against the visibility filter.
func TestEngine_NeverReturnsHiddenItems(t *testing.T) {
	f := newFixture()
	seedMixed(f, rand.New(rand.NewSource(3)), 150)

	viewers := map[string][]string{
		"author-0": {"author-1"},
		"author-3": {"author-2", "author-4"},
		"lurker":   nil,
	}
	for id, follows := range viewers {
		f.profiles.PutUser(id, []string{"go"}, nil)
		for _, a := range follows {
			f.profiles.Follow(id, a)
		}
	}

	e := f.engine()
	for id, follows := range viewers {
		filter := content.NewFilter(id, follows)
		for p := 1; ; p++ {
			res, err := e.Rank(context.Background(), Request{ViewerID: id, Page: p, PageSize: 7})
			if err != nil {
				t.Fatalf("Rank failed: %v", err)
			}
			for _, it := range res.Items {
				if !filter.Allows(&it.Item) {
					t.Errorf("viewer %s received hidden item %s (%s/%s by %s)",
						id, it.Item.ID, it.Item.Visibility, it.Item.Moderation, it.Item.AuthorID)
				}
			}
			if !res.HasMore {
				break
			}
		}
	}

	res, err := e.Rank(context.Background(), Request{Page: 1, PageSize: 200})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	for _, it := range res.Items {
		if it.Item.Visibility != content.VisibilityPublic || it.Item.Moderation != content.ModerationApproved {
			t.Errorf("anonymous viewer received %s (%s/%s)", it.Item.ID, it.Item.Visibility, it.Item.Moderation)
		}
	}
}

func TestEngine_Fallbacks(t *testing.T) {
	tests := []struct {
		name         string
		viewerID     string
		profiles     profile.Store
		wantReason   FallbackReason
		wantDegraded bool
	}{
		{"anonymous", "", profile.NewInMemoryStore(), FallbackAnonymous, false},
		{"unknown viewer", "ghost", profile.NewInMemoryStore(), FallbackViewerNotFound, true},
		{"profile store down", "viewer", failingProfiles{err: errors.New("connection refused")}, FallbackProfileUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.put("a", "alice", content.Engagement{Likes: 1}, time.Hour, "go")
			f.put("b", "bob", content.Engagement{Likes: 50}, time.Hour)

			e := NewEngine(tt.profiles, f.source, WithClock(func() time.Time { return testNow }))
			res, err := e.Rank(context.Background(), Request{ViewerID: tt.viewerID, Page: 1, PageSize: 10})
			if err != nil {
				t.Fatalf("Rank failed: %v", err)
			}
			if res.Strategy != StrategyFallback {
				t.Errorf("expected fallback strategy, got %s", res.Strategy)
			}
			if res.FallbackReason != tt.wantReason {
				t.Errorf("expected reason %q, got %q", tt.wantReason, res.FallbackReason)
			}
			if res.Degraded != tt.wantDegraded {
				t.Errorf("expected degraded=%v, got %v", tt.wantDegraded, res.Degraded)
			}
			if len(res.Items) != 2 {
				t.Fatalf("fallback should rank the same visible items, got %d", len(res.Items))
			}
			for _, it := range res.Items {
				if it.Score != it.Breakdown.Base() {
					t.Errorf("fallback score for %s includes personal boosts: %+v", it.Item.ID, it.Breakdown)
				}
				if it.FollowingAuthor {
					t.Errorf("fallback should never mark followed authors")
				}
			}
		})
	}
}

func TestEngine_StrictPolicyReturnsProfileErrors(t *testing.T) {
	f := newFixture()
	boom := errors.New("connection refused")
	e := NewEngine(failingProfiles{err: boom}, f.source, WithPolicy(Policy{StrictProfileErrors: true}))

	_, err := e.Rank(context.Background(), Request{ViewerID: "viewer", Page: 1, PageSize: 10})
	if !errors.Is(err, boom) {
		t.Errorf("expected profile error, got %v", err)
	}

	// Unknown viewers still fall back under the strict policy.
	e = NewEngine(profile.NewInMemoryStore(), f.source, WithPolicy(Policy{StrictProfileErrors: true}))
	res, err := e.Rank(context.Background(), Request{ViewerID: "ghost", Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if res.FallbackReason != FallbackViewerNotFound {
		t.Errorf("expected viewer_not_found fallback, got %q", res.FallbackReason)
	}
}

func TestEngine_RankPersonalized(t *testing.T) {
	f := newFixture()
	f.profiles.PutUser("viewer", nil, nil)
	e := f.engine()

	for _, id := range []string{"", "ghost"} {
		if _, err := e.RankPersonalized(context.Background(), Request{ViewerID: id, Page: 1, PageSize: 10}); !errors.Is(err, ErrViewerNotFound) {
			t.Errorf("RankPersonalized(%q) error = %v, want ErrViewerNotFound", id, err)
		}
	}

	res, err := e.RankPersonalized(context.Background(), Request{ViewerID: "viewer", Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("RankPersonalized failed: %v", err)
	}
	if res.Strategy != StrategyPersonalized {
		t.Errorf("expected personalized strategy, got %s", res.Strategy)
	}
}

// TestEngine_InvalidPaginationBeforeWork verifies bad pagination is rejected
// before any candidate is fetched.
func TestEngine_InvalidPaginationBeforeWork(t *testing.T) {
	f := newFixture()
	f.put("a", "alice", content.Engagement{}, time.Hour)
	e := f.engine()

	for _, req := range []Request{{Page: 0, PageSize: 10}, {Page: 1, PageSize: 0}, {Page: -3, PageSize: -1}} {
		if _, err := e.Rank(context.Background(), req); !errors.Is(err, ErrInvalidPagination) {
			t.Errorf("Rank(%+v) error = %v, want ErrInvalidPagination", req, err)
		}
	}
	if f.source.calls.Load() != 0 {
		t.Errorf("expected no retrieval, got %d calls", f.source.calls.Load())
	}
}

func TestEngine_EmptyCandidates(t *testing.T) {
	f := newFixture()
	f.profiles.PutUser("viewer", nil, nil)

	res, err := f.engine().Rank(context.Background(), Request{ViewerID: "viewer", Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if res.Items == nil || len(res.Items) != 0 || res.HasMore {
		t.Errorf("expected empty page, got %+v", res.Page)
	}
	if res.Strategy != StrategyPersonalized || res.Degraded {
		t.Errorf("empty result should not change strategy: %+v", res)
	}
}

func TestEngine_RetrievalError(t *testing.T) {
	f := newFixture()
	boom := errors.New("db down")
	f.source.err = boom

	_, err := f.engine().Rank(context.Background(), Request{Page: 1, PageSize: 10})
	if !errors.Is(err, boom) {
		t.Errorf("expected retrieval error, got %v", err)
	}
}

func TestEngine_CancelledContext(t *testing.T) {
	f := newFixture()
	e := NewEngine(failingProfiles{err: context.Canceled}, f.source)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Rank(ctx, Request{ViewerID: "viewer", Page: 1, PageSize: 10}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEngine_RecordsMetrics(t *testing.T) {
	f := newFixture()
	f.put("a", "alice", content.Engagement{}, time.Hour)
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	e := f.engine(WithMetrics(m))

	if _, err := e.Rank(context.Background(), Request{ViewerID: "ghost", Page: 1, PageSize: 10}); err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if _, err := e.Rank(context.Background(), Request{Page: 0, PageSize: 10}); err == nil {
		t.Fatal("expected pagination error")
	}

	if got := counterValue(t, m.requests.WithLabelValues(StrategyFallback, DefaultVariant)); got != 1 {
		t.Errorf("expected 1 fallback request, got %g", got)
	}
	if got := counterValue(t, m.fallbacks.WithLabelValues(string(FallbackViewerNotFound))); got != 1 {
		t.Errorf("expected 1 viewer_not_found fallback, got %g", got)
	}
	if got := counterValue(t, m.errors.WithLabelValues(StageValidate)); got != 1 {
		t.Errorf("expected 1 validation error, got %g", got)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return m.GetCounter().GetValue()
}

var (
	visibilities = []content.Visibility{content.VisibilityPublic, content.VisibilityPrivate, content.VisibilityFollowers}
	moderations  = []content.ModerationState{content.ModerationApproved, content.ModerationPending, content.ModerationRejected}
	topics       = []string{"go", "rust", "databases", "design", "ops"}
)

// seedMixed adds n items spread over every visibility and moderation state,
// five authors and the last 72 hours.
func seedMixed(f *fixture, rng *rand.Rand, n int) {
	for i := 0; i < n; i++ {
		f.items.Put(content.Item{
			ID:         fmt.Sprintf("item-%03d", i),
			AuthorID:   fmt.Sprintf("author-%d", rng.Intn(5)),
			Visibility: visibilities[rng.Intn(len(visibilities))],
			Moderation: moderations[rng.Intn(len(moderations))],
			Engagement: content.Engagement{
				Likes:    int64(rng.Intn(30)),
				Comments: int64(rng.Intn(10)),
				Saves:    int64(rng.Intn(8)),
				Views:    int64(rng.Intn(500)),
			},
			Tags:      []string{topics[rng.Intn(len(topics))], topics[rng.Intn(len(topics))]},
			CreatedAt: testNow.Add(-time.Duration(rng.Intn(72*60)) * time.Minute),
		})
	}
}
