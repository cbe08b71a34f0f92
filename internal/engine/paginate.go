package engine

import (
	"context"
	"iter"
	"strconv"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 50
)

// Page is one slice of an offset-paginated listing.
type Page[T any] struct {
	Href   string  `json:"href,omitempty"`
	Items  []T     `json:"items"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Total  int     `json:"total"`
	Next   *string `json:"next"`
}

// HasNext reports whether the listing continues past this page.
func (p *Page[T]) HasNext() bool {
	return p.Next != nil && *p.Next != ""
}

// FetchFunc loads the page starting at offset.
type FetchFunc[T any] func(ctx context.Context, limit, offset int) (*Page[T], error)

// PageOptions bounds a traversal. Zero values mean defaults or no ceiling.
type PageOptions struct {
	Limit    int // page size, clamped to [1, MaxLimit]
	MaxLimit int // endpoint bound, MaxPageLimit when zero
	Offset   int
	MaxItems int
	MaxPages int
}

// EffectiveLimit returns the page size after defaults and clamping.
func (o PageOptions) EffectiveLimit() int {
	bound := o.MaxLimit
	if bound <= 0 {
		bound = MaxPageLimit
	}
	limit := o.Limit
	if limit == 0 {
		limit = DefaultPageLimit
	}
	return min(max(limit, 1), bound)
}

// walk fetches pages in order until the listing or a ceiling is exhausted or visit returns false.
// A context cancelled between fetches ends the walk with the context error.
func walk[T any](ctx context.Context, fetch FetchFunc[T], opts PageOptions, visit func(*Page[T]) bool) error {
	offset := max(opts.Offset, 0)
	seen, pages := 0, 0

	for {
		limit := opts.EffectiveLimit()
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := fetch(ctx, limit, offset)
		if err != nil {
			return err
		}
		// A page that lands after cancellation is discarded.
		if err := ctx.Err(); err != nil {
			return err
		}

		pages++
		seen += len(page.Items)
		if !visit(page) {
			return nil
		}

		switch {
		case !page.HasNext(), len(page.Items) == 0:
			return nil
		case page.Total > 0 && offset+len(page.Items) >= page.Total:
			return nil
		case opts.MaxPages > 0 && pages >= opts.MaxPages:
			return nil
		case opts.MaxItems > 0 && seen >= opts.MaxItems:
			return nil
		}

		step := page.Limit
		if step <= 0 {
			step = limit
		}
		offset += step
	}
}

// Pages streams pages, fetching each one only when the consumer asks for it. Cancelling ctx
// ends the sequence without an error; a failed fetch yields the error and ends it.
func Pages[T any](ctx context.Context, fetch FetchFunc[T], opts PageOptions) iter.Seq2[*Page[T], error] {
	return func(yield func(*Page[T], error) bool) {
		stopped := false
		err := walk(ctx, fetch, opts, func(p *Page[T]) bool {
			if !yield(p, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped && ctx.Err() == nil {
			yield(nil, err)
		}
	}
}

// Items streams individual items across pages, honoring MaxItems exactly.
func Items[T any](ctx context.Context, fetch FetchFunc[T], opts PageOptions) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		count := 0
		for page, err := range Pages(ctx, fetch, opts) {
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range page.Items {
				if opts.MaxItems > 0 && count >= opts.MaxItems {
					return
				}
				if !yield(item, nil) {
					return
				}
				count++
			}
		}
	}
}

// All materializes the listing. Unlike the streaming forms, cancellation is reported as an error
// because the collection would be incomplete.
func All[T any](ctx context.Context, fetch FetchFunc[T], opts PageOptions) ([]T, error) {
	var out []T
	err := walk(ctx, fetch, opts, func(p *Page[T]) bool {
		out = append(out, p.Items...)
		return true
	})
	if err != nil {
		return nil, err
	}
	if opts.MaxItems > 0 && len(out) > opts.MaxItems {
		out = out[:opts.MaxItems]
	}
	return out, nil
}

// OffsetFetcher returns a [FetchFunc] that GETs path with limit and offset query parameters.
func OffsetFetcher[T any](e *Executor, path string, query ...Param) FetchFunc[T] {
	return func(ctx context.Context, limit, offset int) (*Page[T], error) {
		params := append(append([]Param(nil), query...),
			Q("limit", strconv.Itoa(limit)),
			Q("offset", strconv.Itoa(offset)),
		)
		page, err := Perform[Page[T]](ctx, e, Get(path, params...))
		if err != nil {
			return nil, err
		}
		return &page, nil
	}
}
