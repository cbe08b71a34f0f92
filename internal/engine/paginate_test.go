package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	tu "github.com/desertthunder/spotcore/internal/testing"
)

// memoryListing serves items in pages and counts fetches.
type memoryListing struct {
	mu      sync.Mutex
	items   []int
	fetches int
	limits  []int
	failAt  int // 1-based fetch number that fails
}

func (m *memoryListing) fetch(_ context.Context, limit, offset int) (*Page[int], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	m.limits = append(m.limits, limit)
	if m.failAt > 0 && m.fetches == m.failAt {
		return nil, errors.New("fetch failed")
	}

	end := min(offset+limit, len(m.items))
	page := &Page[int]{Items: slices.Clone(m.items[min(offset, end):end]), Limit: limit, Offset: offset, Total: len(m.items)}
	if end < len(m.items) {
		next := fmt.Sprintf("/items?offset=%d&limit=%d", end, limit)
		page.Next = &next
	}
	return page, nil
}

func TestPagination(t *testing.T) {
	ctx := context.Background()

	t.Run("Materialize Yields Every Item In Order", func(t *testing.T) {
		l := &memoryListing{items: []int{1, 2, 3, 4, 5}}
		got, err := All(ctx, l.fetch, PageOptions{Limit: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(got, []int{1, 2, 3, 4, 5}) {
			t.Errorf("unexpected items %v", got)
		}
		if l.fetches != 3 {
			t.Errorf("expected 3 fetches, got %d", l.fetches)
		}
	})

	t.Run("Stream Stops At Max Items", func(t *testing.T) {
		l := &memoryListing{items: []int{1, 2, 3, 4, 5}}
		var got []int
		for item, err := range Items(ctx, l.fetch, PageOptions{Limit: 2, MaxItems: 3}) {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got = append(got, item)
		}
		if !slices.Equal(got, []int{1, 2, 3}) {
			t.Errorf("unexpected items %v", got)
		}
		if l.fetches != 2 {
			t.Errorf("expected 2 fetches, got %d", l.fetches)
		}
	})

	t.Run("Max Pages", func(t *testing.T) {
		l := &memoryListing{items: []int{1, 2, 3, 4, 5}}
		pages := 0
		for _, err := range Pages(ctx, l.fetch, PageOptions{Limit: 2, MaxPages: 2}) {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			pages++
		}
		if pages != 2 || l.fetches != 2 {
			t.Errorf("expected 2 pages from 2 fetches, got %d and %d", pages, l.fetches)
		}
	})

	t.Run("Materialize Honors Max Items", func(t *testing.T) {
		l := &memoryListing{items: []int{1, 2, 3, 4, 5}}
		got, err := All(ctx, l.fetch, PageOptions{Limit: 2, MaxItems: 3})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(got, []int{1, 2, 3}) {
			t.Errorf("unexpected items %v", got)
		}
	})

	t.Run("Limit Is Clamped", func(t *testing.T) {
		tests := []struct {
			opts PageOptions
			want int
		}{
			{PageOptions{}, DefaultPageLimit},
			{PageOptions{Limit: 500}, MaxPageLimit},
			{PageOptions{Limit: -3}, 1},
			{PageOptions{Limit: 30, MaxLimit: 10}, 10},
		}
		for _, tt := range tests {
			l := &memoryListing{items: []int{1}}
			if _, err := All(ctx, l.fetch, tt.opts); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if l.limits[0] != tt.want {
				t.Errorf("%+v: expected limit %d, got %d", tt.opts, tt.want, l.limits[0])
			}
		}
	})

	t.Run("Consumer Break Stops Fetching", func(t *testing.T) {
		l := &memoryListing{items: []int{1, 2, 3, 4, 5, 6}}
		for range Pages(ctx, l.fetch, PageOptions{Limit: 2}) {
			break
		}
		if l.fetches != 1 {
			t.Errorf("expected 1 fetch, got %d", l.fetches)
		}
	})

	t.Run("Fetch Error Ends Stream", func(t *testing.T) {
		l := &memoryListing{items: []int{1, 2, 3, 4, 5}, failAt: 2}
		var got []int
		var gotErr error
		for item, err := range Items(ctx, l.fetch, PageOptions{Limit: 2}) {
			if err != nil {
				gotErr = err
				break
			}
			got = append(got, item)
		}
		if gotErr == nil || !slices.Equal(got, []int{1, 2}) {
			t.Errorf("expected 2 items then an error, got %v and %v", got, gotErr)
		}

		l = &memoryListing{items: []int{1, 2, 3}, failAt: 2}
		if out, err := All(ctx, l.fetch, PageOptions{Limit: 2}); err == nil || out != nil {
			t.Errorf("materialize must not return a partial collection, got %v %v", out, err)
		}
	})

	t.Run("Offset Advances By Page Limit", func(t *testing.T) {
		var offsets []int
		fetch := func(_ context.Context, limit, offset int) (*Page[int], error) {
			offsets = append(offsets, offset)
			next := "more"
			page := &Page[int]{Items: []int{offset}, Limit: 5, Offset: offset, Total: 100, Next: &next}
			return page, nil
		}
		for range Pages(ctx, fetch, PageOptions{Limit: 5, MaxPages: 3}) {
		}
		if !slices.Equal(offsets, []int{0, 5, 10}) {
			t.Errorf("unexpected offsets %v", offsets)
		}
	})

	t.Run("Cancellation Stops Further Transport Calls", func(t *testing.T) {
		rt := scripted(
			tu.Respond(200, `{"items":[1,2],"limit":2,"offset":0,"total":6,"next":"p2"}`),
			tu.Respond(200, `{"items":[3,4],"limit":2,"offset":2,"total":6,"next":"p3"}`),
			tu.Respond(200, `{"items":[5,6],"limit":2,"offset":4,"total":6,"next":null}`),
		)
		e, _, _ := newTestExecutor(t, rt, nil)

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()

		pages := 0
		for page, err := range Pages(cctx, OffsetFetcher[int](e, "/me/tracks"), PageOptions{Limit: 2}) {
			if err != nil {
				t.Fatalf("cancellation must end the stream without error, got %v", err)
			}
			pages++
			if page.Items[0] != 1 {
				t.Errorf("unexpected first page %+v", page)
			}
			cancel()
		}

		if pages != 1 {
			t.Errorf("expected 1 page, got %d", pages)
		}
		if rt.Calls() != 1 {
			t.Errorf("expected 1 transport call, got %d", rt.Calls())
		}
	})

	t.Run("Materialize Over Executor", func(t *testing.T) {
		rt := scripted(
			tu.Respond(200, `{"items":[1,2],"limit":2,"offset":0,"total":5,"next":"p2"}`),
			tu.Respond(200, `{"items":[3,4],"limit":2,"offset":2,"total":5,"next":"p3"}`),
			tu.Respond(200, `{"items":[5],"limit":2,"offset":4,"total":5,"next":null}`),
		)
		e, _, _ := newTestExecutor(t, rt, nil)

		got, err := All(ctx, OffsetFetcher[int](e, "/me/tracks", Q("market", "US")), PageOptions{Limit: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(got, []int{1, 2, 3, 4, 5}) {
			t.Errorf("unexpected items %v", got)
		}
		if q := rt.Requests()[2].URL.RawQuery; q != "market=US&limit=2&offset=4" {
			t.Errorf("unexpected query %s", q)
		}
	})
}
