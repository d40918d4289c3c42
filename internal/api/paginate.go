package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"eauharvest/internal/models"
	"eauharvest/internal/state"
)

const (
	DefaultPageSize = 1000
	DefaultMaxDepth = 20000

	// upstream APIs cap deep pagination around this many records
	recordLimit20k = 20000
)

var ErrNoFetcher = errors.New("paginator has no client or ledger")

// StopReason says why a pagination run ended without error
type StopReason string

const (
	StopNone                    StopReason = ""
	StopNaturalEnd              StopReason = "natural_end"
	StopMaxDepth                StopReason = "max_depth"
	StopUpstreamPaginationLimit StopReason = "upstream_pagination_limit"
	StopResumed                 StopReason = "resumed"
)

// Result is what a pagination run hands back to its caller
type Result struct {
	Records []map[string]any
	Stopped StopReason
	Pages   int // pages fetched from upstream
	Skipped int // pages skipped because the ledger had them
}

// Fetcher issues one logical GET
type Fetcher interface {
	Get(ctx context.Context, endpoint string, params map[string]string) (map[string]any, error)
}

// Ledger is the slice of the state store pagination needs
type Ledger interface {
	GetOperation(ctx context.Context, taskID, opType, opKey string) (*models.Operation, error)
	RecordOperation(ctx context.Context, taskID, opType, opKey string, metadata map[string]any) error
}

// PageQuery describes a page+size endpoint
type PageQuery struct {
	Endpoint  string
	Params    map[string]string
	PageParam string // default "page"
	SizeParam string // default "size"
}

// CursorQuery describes a cursor endpoint
type CursorQuery struct {
	Endpoint    string
	Params      map[string]string
	CursorParam string // default "cursor"
	SizeParam   string // default "size"
}

// Paginator drains paginated endpoints, resuming from the ledger
type Paginator struct {
	Client   Fetcher
	Ledger   Ledger
	TaskID   string
	PageSize int
	MaxDepth int
}

// NewPaginator applies the default page size and depth
func NewPaginator(client Fetcher, ledger Ledger, taskID string) *Paginator {
	return &Paginator{
		Client:   client,
		Ledger:   ledger,
		TaskID:   taskID,
		PageSize: DefaultPageSize,
		MaxDepth: DefaultMaxDepth,
	}
}

func (p *Paginator) limits() (int, int) {
	size, depth := p.PageSize, p.MaxDepth
	if size <= 0 {
		size = DefaultPageSize
	}
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	return size, depth
}

func (p *Paginator) logger() zerolog.Logger {
	return log.With().Str("task_id", p.TaskID).Logger()
}

// PageKey builds the ledger key of one page: the endpoint, the query
// parameters sorted by name (page and size excluded) and the page number
func PageKey(endpoint string, params map[string]string, page int, exclude ...string) string {
	q := sortedQuery(params, exclude...)
	if q == "" {
		return fmt.Sprintf("%s?page=%d", endpoint, page)
	}
	return fmt.Sprintf("%s?%s&page=%d", endpoint, q, page)
}

// CursorKey builds the ledger key of one cursor position
func CursorKey(endpoint string, params map[string]string, cursor string, exclude ...string) string {
	q := sortedQuery(params, exclude...)
	if q == "" {
		return fmt.Sprintf("%s?cursor=%s", endpoint, cursor)
	}
	return fmt.Sprintf("%s?%s&cursor=%s", endpoint, q, cursor)
}

func sortedQuery(params map[string]string, exclude ...string) string {
	keys := make([]string, 0, len(params))
outer:
	for k := range params {
		for _, ex := range exclude {
			if k == ex {
				continue outer
			}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + params[k]
	}
	return strings.Join(parts, "&")
}

// Pages drains a page+size endpoint.
//
// Pages already in the ledger are not requested again. A page is recorded only
// after it was fetched; the page that ends the run carries its stop reason in
// the ledger metadata so a later run over the same query stops there without a
// request. HTTP 400 past the first page is the upstream refusing deep
// pagination and ends the run keeping what was fetched. Any other error is
// returned along with nothing.
func (p *Paginator) Pages(ctx context.Context, q PageQuery) (*Result, error) {
	pageParam, sizeParam := q.PageParam, q.SizeParam
	if pageParam == "" {
		pageParam = "page"
	}
	if sizeParam == "" {
		sizeParam = "size"
	}
	if p.Client == nil || p.Ledger == nil {
		return nil, ErrNoFetcher
	}
	size, maxDepth := p.limits()
	logger := p.logger()

	params := make(map[string]string, len(q.Params)+2)
	for k, v := range q.Params {
		params[k] = v
	}
	params[sizeParam] = strconv.Itoa(size)

	res := &Result{}
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key := PageKey(q.Endpoint, params, page, pageParam, sizeParam)
		done, err := p.Ledger.GetOperation(ctx, p.TaskID, state.OpAPIPage, key)
		if err != nil {
			return nil, err
		}
		if done != nil {
			res.Skipped++
			if reason := terminalReason(done); reason != StopNone {
				logger.Info().Int("page", page).Str("stopped", string(reason)).Msg("Resumed at completed final page")
				res.Stopped = reason
				break
			}
			logger.Info().Int("page", page).Msg("Skipping completed page")
			if len(res.Records) >= maxDepth {
				res.Stopped = StopMaxDepth
				break
			}
			continue
		}

		params[pageParam] = strconv.Itoa(page)
		body, err := p.Client.Get(ctx, q.Endpoint, params)
		if err != nil {
			if page > 1 && IsPaginationLimit(err) {
				logger.Warn().
					Str("threshold_type", "api_pagination_limit").
					Int("page", page).
					Int("total_results", len(res.Records)).
					Msg("Hit API pagination limit, stopping gracefully")
				res.Stopped = StopUpstreamPaginationLimit
				break
			}
			return nil, err
		}
		res.Pages++

		records := extractRecords(body)
		res.Records = append(res.Records, records...)

		reason := StopNone
		switch {
		case len(records) == 0:
			reason = StopNaturalEnd
		case len(res.Records) >= maxDepth:
			reason = StopMaxDepth
		case len(records) < size:
			reason = StopNaturalEnd
		}

		meta := map[string]any{"records": len(records)}
		if reason != StopNone {
			meta["terminal"] = string(reason)
		}
		if err := p.Ledger.RecordOperation(ctx, p.TaskID, state.OpAPIPage, key, meta); err != nil {
			return nil, err
		}

		logger.Info().
			Int("page", page).
			Int("results", len(records)).
			Int("total", len(res.Records)).
			Msg("Page fetched")

		if reason == StopMaxDepth {
			logger.Warn().
				Str("threshold_type", "max_records").
				Int("threshold_value", maxDepth).
				Int("records_fetched", len(res.Records)).
				Int("page", page).
				Msg("Pagination limit reached")
		}
		if reason != StopNone {
			res.Stopped = reason
			break
		}
	}

	if len(res.Records) >= recordLimit20k {
		logger.Warn().
			Str("threshold_type", "record_limit_20k").
			Int("threshold_value", recordLimit20k).
			Int("records_fetched", len(res.Records)).
			Msg("Hit 20k record threshold")
	}

	logger.Info().
		Str("endpoint", q.Endpoint).
		Int("total_results", len(res.Records)).
		Int("pages", res.Pages).
		Int("skipped", res.Skipped).
		Str("stopped", string(res.Stopped)).
		Msg("Pagination complete")
	return res, nil
}

// Cursor drains a cursor endpoint.
//
// Resume is best-effort: each cursor position is recorded, but the chain is
// not replayed, so reaching a position that is already in the ledger ends the
// run with StopResumed. Records of earlier positions are not returned again.
func (p *Paginator) Cursor(ctx context.Context, q CursorQuery) (*Result, error) {
	cursorParam, sizeParam := q.CursorParam, q.SizeParam
	if cursorParam == "" {
		cursorParam = "cursor"
	}
	if sizeParam == "" {
		sizeParam = "size"
	}
	if p.Client == nil || p.Ledger == nil {
		return nil, ErrNoFetcher
	}
	size, _ := p.limits()
	logger := p.logger()

	params := make(map[string]string, len(q.Params)+2)
	for k, v := range q.Params {
		params[k] = v
	}
	params[sizeParam] = strconv.Itoa(size)

	res := &Result{}
	cursor := ""
	for pageNum := 1; ; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key := CursorKey(q.Endpoint, params, cursor, cursorParam, sizeParam)
		done, err := p.Ledger.GetOperation(ctx, p.TaskID, state.OpAPICursor, key)
		if err != nil {
			return nil, err
		}
		if done != nil {
			logger.Info().Int("page", pageNum).Str("cursor", cursor).Msg("Skipping completed cursor page, cursor resume stops here")
			res.Skipped++
			res.Stopped = StopResumed
			break
		}

		if cursor != "" {
			params[cursorParam] = cursor
		}
		body, err := p.Client.Get(ctx, q.Endpoint, params)
		if err != nil {
			return nil, err
		}
		res.Pages++

		records := extractRecords(body)
		if len(records) == 0 {
			res.Stopped = StopNaturalEnd
			break
		}
		res.Records = append(res.Records, records...)

		next := nextCursor(body)
		if err := p.Ledger.RecordOperation(ctx, p.TaskID, state.OpAPICursor, key, map[string]any{
			"cursor":  next,
			"records": len(records),
		}); err != nil {
			return nil, err
		}

		logger.Info().
			Int("page", pageNum).
			Int("results", len(records)).
			Int("total", len(res.Records)).
			Str("next_cursor", next).
			Msg("Cursor page fetched")

		if next == "" {
			res.Stopped = StopNaturalEnd
			break
		}
		cursor = next
	}

	logger.Info().
		Str("endpoint", q.Endpoint).
		Int("total_results", len(res.Records)).
		Str("stopped", string(res.Stopped)).
		Msg("Cursor pagination complete")
	return res, nil
}

func terminalReason(op *models.Operation) StopReason {
	if op == nil || op.Metadata == nil {
		return StopNone
	}
	if s, ok := op.Metadata["terminal"].(string); ok {
		return StopReason(s)
	}
	return StopNone
}

// extractRecords reads the "data" array; non-object items are dropped
func extractRecords(body map[string]any) []map[string]any {
	raw, ok := body["data"].([]any)
	if !ok {
		return nil
	}
	records := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if rec, ok := item.(map[string]any); ok {
			records = append(records, rec)
		}
	}
	return records
}

// nextCursor accepts both spellings used upstream, as strings or full URLs
func nextCursor(body map[string]any) string {
	for _, k := range []string{"next_cursor", "cursor_next"} {
		switch v := body[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
