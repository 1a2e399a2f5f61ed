package gateway

import (
	"context"
	"errors"
)

// ErrPagerDone is returned by Next once the last page has been read.
var ErrPagerDone = errors.New("pager: no more pages")

// Page is one response of a paginated listing.
type Page[T any] struct {
	Items []T
	// Next is the cursor of the following page, empty on the last page.
	Next string
}

// PageFunc fetches the page at cursor. The empty cursor is the first page.
type PageFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Pager is a lazy, restartable sequence of pages. The cursor only advances
// when a page is fetched successfully, so calling Next again after an error
// retries the same page instead of starting over.
type Pager[T any] struct {
	fetch  PageFunc[T]
	cursor string
	done   bool
	pages  int
}

// NewPager returns a pager positioned before the first page.
func NewPager[T any](fetch PageFunc[T]) *Pager[T] {
	return &Pager[T]{fetch: fetch}
}

// Next fetches the page at the current cursor.
func (p *Pager[T]) Next(ctx context.Context) ([]T, error) {
	if p.done {
		return nil, ErrPagerDone
	}
	page, err := p.fetch(ctx, p.cursor)
	if err != nil {
		return nil, err
	}
	p.pages++
	p.cursor = page.Next
	p.done = page.Next == ""
	return page.Items, nil
}

// Done reports whether the last page has been read.
func (p *Pager[T]) Done() bool { return p.done }

// Cursor is the position of the next page to fetch.
func (p *Pager[T]) Cursor() string { return p.cursor }

// Pages is the number of pages read so far.
func (p *Pager[T]) Pages() int { return p.pages }
