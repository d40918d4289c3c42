package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eauharvest/internal/database"
	"eauharvest/internal/state"
)

func newLedger(t *testing.T) *state.Store {
	t.Helper()
	db, err := database.Init(database.Options{URL: "sqlite://" + filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return state.NewStore(db)
}

func records(n, offset int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"id": offset + i}
	}
	return out
}

// pagedServer serves sizes[page-1] records for each page; pages past the end
// answer with an empty data array unless status overrides them
func pagedServer(t *testing.T, sizes []int, status map[int]int, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if code, ok := status[page]; ok {
			w.WriteHeader(code)
			return
		}
		n := 0
		if page >= 1 && page <= len(sizes) {
			n = sizes[page-1]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": records(n, page*1000)})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPages(t *testing.T) {
	ctx := context.Background()
	query := PageQuery{Endpoint: "/analyse_pc", Params: map[string]string{"code_parametre": "1340"}}

	t.Run("Should stop on a short page and sum every page", func(t *testing.T) {
		var hits int32
		srv := pagedServer(t, []int{5, 5, 3}, nil, &hits)
		p := NewPaginator(NewClient(ClientOptions{BaseURL: srv.URL, Retry: fastRetry}), newLedger(t), "t4")
		p.PageSize = 5

		res, err := p.Pages(ctx, query)
		require.NoError(t, err)
		assert.Len(t, res.Records, 13)
		assert.Equal(t, StopNaturalEnd, res.Stopped)
		assert.Equal(t, 3, res.Pages)
		assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
	})

	t.Run("Should stop on an empty page", func(t *testing.T) {
		var hits int32
		srv := pagedServer(t, []int{5, 5}, nil, &hits)
		p := NewPaginator(NewClient(ClientOptions{BaseURL: srv.URL, Retry: fastRetry}), newLedger(t), "t4")
		p.PageSize = 5

		res, err := p.Pages(ctx, query)
		require.NoError(t, err)
		assert.Len(t, res.Records, 10)
		assert.Equal(t, StopNaturalEnd, res.Stopped)
		assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
	})

	t.Run("Should keep page one when page two answers 400", func(t *testing.T) {
		var hits int32
		srv := pagedServer(t, []int{5, 5}, map[int]int{2: http.StatusBadRequest}, &hits)
		p := NewPaginator(NewClient(ClientOptions{BaseURL: srv.URL, Retry: fastRetry}), newLedger(t), "t4")
		p.PageSize = 5

		res, err := p.Pages(ctx, query)
		require.NoError(t, err)
		assert.Len(t, res.Records, 5)
		assert.Equal(t, StopUpstreamPaginationLimit, res.Stopped)
		assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
	})

	t.Run("Should fail when the first page answers 400", func(t *testing.T) {
		var hits int32
		srv := pagedServer(t, nil, map[int]int{1: http.StatusBadRequest}, &hits)
		p := NewPaginator(NewClient(ClientOptions{BaseURL: srv.URL, Retry: fastRetry}), newLedger(t), "t4")

		_, err := p.Pages(ctx, query)
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	})

	t.Run("Should propagate persistent server errors without recording", func(t *testing.T) {
		var hits int32
		srv := pagedServer(t, []int{5}, map[int]int{2: http.StatusInternalServerError}, &hits)
		ledger := newLedger(t)
		p := NewPaginator(NewClient(ClientOptions{BaseURL: srv.URL, Retry: fastRetry}), ledger, "t4")
		p.PageSize = 5

		_, err := p.Pages(ctx, query)
		require.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, StatusCode(err))

		keys, err := ledger.CompletedOperations(ctx, "t4", state.OpAPIPage)
		require.NoError(t, err)
		assert.Equal(t, []string{"/analyse_pc?code_parametre=1340&page=1"}, keys)
	})

	t.Run("Should stop at max depth", func(t *testing.T) {
		var hits int32
		srv := pagedServer(t, []int{5, 5, 5, 5}, nil, &hits)
		p := NewPaginator(NewClient(ClientOptions{BaseURL: srv.URL, Retry: fastRetry}), newLedger(t), "t4")
		p.PageSize = 5
		p.MaxDepth = 10

		res, err := p.Pages(ctx, query)
		require.NoError(t, err)
		assert.Len(t, res.Records, 10)
		assert.Equal(t, StopMaxDepth, res.Stopped)
		assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
	})

	t.Run("Should issue zero requests when rerun over a finished query", func(t *testing.T) {
		var hits int32
		srv := pagedServer(t, []int{5, 5, 2}, nil, &hits)
		ledger := newLedger(t)
		p := NewPaginator(NewClient(ClientOptions{BaseURL: srv.URL, Retry: fastRetry}), ledger, "t4")
		p.PageSize = 5

		_, err := p.Pages(ctx, query)
		require.NoError(t, err)
		require.EqualValues(t, 3, atomic.LoadInt32(&hits))

		res, err := p.Pages(ctx, query)
		require.NoError(t, err)
		assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
		assert.Equal(t, 0, res.Pages)
		assert.Equal(t, 3, res.Skipped)
		assert.Equal(t, StopNaturalEnd, res.Stopped)
	})

	t.Run("Should resume after the last recorded page", func(t *testing.T) {
		var hits int32
		srv := pagedServer(t, []int{5, 5, 1}, nil, &hits)
		ledger := newLedger(t)
		require.NoError(t, ledger.RecordOperation(ctx, "t4", state.OpAPIPage, "/analyse_pc?code_parametre=1340&page=1", nil))
		p := NewPaginator(NewClient(ClientOptions{BaseURL: srv.URL, Retry: fastRetry}), ledger, "t4")
		p.PageSize = 5

		res, err := p.Pages(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)
		assert.Equal(t, 2, res.Pages)
		assert.Len(t, res.Records, 6)
		assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
	})
}

func TestPageKey(t *testing.T) {
	params := map[string]string{"size": "1000", "page": "3", "date_fin": "2020-01-31", "code_parametre": "1340"}

	assert.Equal(t,
		"/analyse_pc?code_parametre=1340&date_fin=2020-01-31&page=2",
		PageKey("/analyse_pc", params, 2, "page", "size"))
	assert.Equal(t, "/x?page=1", PageKey("/x", nil, 1))
	assert.Equal(t, "/obs?code=A1&cursor=", CursorKey("/obs", map[string]string{"code": "A1", "size": "5"}, "", "cursor", "size"))
}

// fakeCursorAPI serves a fixed chain of cursor pages
type fakeCursorAPI struct {
	pages map[string]map[string]any
	calls int
}

func (f *fakeCursorAPI) Get(_ context.Context, _ string, params map[string]string) (map[string]any, error) {
	f.calls++
	page, ok := f.pages[params["cursor"]]
	if !ok {
		return nil, fmt.Errorf("unexpected cursor %q", params["cursor"])
	}
	return page, nil
}

func TestCursor(t *testing.T) {
	ctx := context.Background()
	data := func(ids ...int) []any {
		out := make([]any, len(ids))
		for i, id := range ids {
			out[i] = map[string]any{"id": id}
		}
		return out
	}

	t.Run("Should follow next_cursor and cursor_next until absent", func(t *testing.T) {
		api := &fakeCursorAPI{pages: map[string]map[string]any{
			"":   {"data": data(1, 2), "next_cursor": "c2"},
			"c2": {"data": data(3), "cursor_next": "c3"},
			"c3": {"data": data(4)},
		}}
		ledger := newLedger(t)
		p := NewPaginator(api, ledger, "t6")

		res, err := p.Cursor(ctx, CursorQuery{Endpoint: "/observations_tr", Params: map[string]string{"code_entite": "A1"}})
		require.NoError(t, err)
		assert.Len(t, res.Records, 4)
		assert.Equal(t, StopNaturalEnd, res.Stopped)
		assert.Equal(t, 3, api.calls)

		op, err := ledger.GetOperation(ctx, "t6", state.OpAPICursor, "/observations_tr?code_entite=A1&cursor=")
		require.NoError(t, err)
		require.NotNil(t, op)
		assert.Equal(t, "c2", op.Metadata["cursor"])
	})

	t.Run("Should stop on an empty page", func(t *testing.T) {
		api := &fakeCursorAPI{pages: map[string]map[string]any{
			"": {"data": []any{}, "next_cursor": "c2"},
		}}
		p := NewPaginator(api, newLedger(t), "t6")

		res, err := p.Cursor(ctx, CursorQuery{Endpoint: "/observations_tr"})
		require.NoError(t, err)
		assert.Empty(t, res.Records)
		assert.Equal(t, StopNaturalEnd, res.Stopped)
	})

	t.Run("Should end the run at a recorded cursor", func(t *testing.T) {
		api := &fakeCursorAPI{pages: map[string]map[string]any{
			"": {"data": data(1), "next_cursor": "c2"},
		}}
		ledger := newLedger(t)
		require.NoError(t, ledger.RecordOperation(ctx, "t6", state.OpAPICursor, "/observations_tr?cursor=c2", nil))
		p := NewPaginator(api, ledger, "t6")

		res, err := p.Cursor(ctx, CursorQuery{Endpoint: "/observations_tr"})
		require.NoError(t, err)
		assert.Len(t, res.Records, 1)
		assert.Equal(t, StopResumed, res.Stopped)
		assert.Equal(t, 1, api.calls)
	})

	t.Run("Should propagate fetch errors", func(t *testing.T) {
		api := &fakeCursorAPI{pages: map[string]map[string]any{}}
		p := NewPaginator(api, newLedger(t), "t6")

		_, err := p.Cursor(ctx, CursorQuery{Endpoint: "/observations_tr"})
		assert.Error(t, err)
	})

	t.Run("Should refuse to run without a client", func(t *testing.T) {
		p := &Paginator{}
		_, err := p.Cursor(ctx, CursorQuery{Endpoint: "/x"})
		assert.True(t, errors.Is(err, ErrNoFetcher))
	})
}
