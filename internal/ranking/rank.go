package ranking

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidPagination is returned when page or page size is not positive.
var ErrInvalidPagination = errors.New("invalid pagination")

// PageRequest selects one page of a ranking. Pages are 1-based.
type PageRequest struct {
	Page     int
	PageSize int
}

// Validate returns ErrInvalidPagination unless both fields are positive.
func (p PageRequest) Validate() error {
	if p.Page <= 0 {
		return fmt.Errorf("%w: page must be >= 1, got %d", ErrInvalidPagination, p.Page)
	}
	if p.PageSize <= 0 {
		return fmt.Errorf("%w: page size must be >= 1, got %d", ErrInvalidPagination, p.PageSize)
	}
	return nil
}

// Offset returns (Page-1)*PageSize, saturating at math.MaxInt.
func (p PageRequest) Offset() int {
	if p.Page <= 1 || p.PageSize <= 0 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.PageSize {
		return math.MaxInt
	}
	return (p.Page - 1) * p.PageSize
}

// SortCandidates orders candidates by score descending, then creation time
// descending, then item id ascending. The order is total for distinct ids.
func SortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		return less(&cs[i], &cs[j])
	})
}

func less(a, b *Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.Item.CreatedAt.Equal(b.Item.CreatedAt) {
		return a.Item.CreatedAt.After(b.Item.CreatedAt)
	}
	return a.Item.ID < b.Item.ID
}

// RankedItem is a candidate placed on a page, with its explanation.
type RankedItem struct {
	Candidate
	Reasons []string
}

// Page is one slice of a ranking.
type Page struct {
	Items    []RankedItem
	Page     int
	PageSize int
	Total    int
	HasMore  bool
}

// Paginate slices the requested page out of sorted candidates and attaches
// reasons from explainer. A page past the end is empty, not an error.
// A nil explainer leaves reasons empty.
func Paginate(sorted []Candidate, req PageRequest, explainer *Explainer) (Page, error) {
	if err := req.Validate(); err != nil {
		return Page{}, err
	}

	page := Page{
		Items:    []RankedItem{},
		Page:     req.Page,
		PageSize: req.PageSize,
		Total:    len(sorted),
	}

	offset := req.Offset()
	if offset >= len(sorted) {
		return page, nil
	}
	end := len(sorted)
	if req.PageSize < end-offset {
		end = offset + req.PageSize
	}

	page.Items = make([]RankedItem, 0, end-offset)
	for _, c := range sorted[offset:end] {
		item := RankedItem{Candidate: c, Reasons: []string{}}
		if explainer != nil {
			item.Reasons = explainer.Reasons(c)
		}
		page.Items = append(page.Items, item)
	}
	page.HasMore = end < len(sorted)
	return page, nil
}
