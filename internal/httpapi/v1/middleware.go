package v1

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/meta"
	"github.com/minerva-erp/glcore/internal/service/aggregate"
	"github.com/minerva-erp/glcore/internal/service/posting"
)

type ctxKey string

const (
	ctxKeyPostEntry    ctxKey = "validatedPostEntry"
	ctxKeyReverseEntry ctxKey = "validatedReverseEntry"
	ctxKeyListEntries  ctxKey = "validatedListEntries"
	ctxKeyTrialBalance ctxKey = "validatedTrialBalance"
	ctxKeyPostAccount  ctxKey = "validatedPostAccount"
)

// validatePostEntry decodes and shape-checks the POST /entries body and
// stores the request in the context. Balance and dimension rules run in the
// posting service, which owns them.
func (s *Server) validatePostEntry() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !requireJSON(w, r) {
				return
			}
			var req postEntryRequest
			if err := decodeJSON(r, &req); err != nil {
				badRequest(w, "invalid JSON: "+err.Error())
				return
			}
			if req.Date.IsZero() {
				badRequest(w, "date is required")
				return
			}
			if len(req.Lines) == 0 {
				badRequest(w, "lines are required")
				return
			}
			if err := meta.New(req.Metadata).Validate(); err != nil {
				badRequest(w, err.Error())
				return
			}
			for _, ln := range req.Lines {
				if err := meta.New(ln.Metadata).Validate(); err != nil {
					badRequest(w, err.Error())
					return
				}
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostEntry, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validateReverseEntry parses the optional POST /entries/{id}/reverse body.
// An empty body reverses on the original entry date.
func (s *Server) validateReverseEntry() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req reverseEntryRequest
			if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
				badRequest(w, "invalid JSON: "+err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyReverseEntry, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validateListEntries parses query params for GET /entries.
func (s *Server) validateListEntries() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			query := posting.EntryQuery{
				Cursor: q.Get("cursor"),
				Source: ledger.EntrySource(q.Get("source")),
			}
			if raw := q.Get("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					badRequest(w, "invalid limit")
					return
				}
				query.Limit = n
			}
			if raw := q.Get("from"); raw != "" {
				t, err := parseTime(raw)
				if err != nil {
					badRequest(w, "invalid from")
					return
				}
				query.From = t
			}
			if raw := q.Get("to"); raw != "" {
				t, err := parseTime(raw)
				if err != nil {
					badRequest(w, "invalid to")
					return
				}
				query.To = t
			}
			ctx := context.WithValue(r.Context(), ctxKeyListEntries, query)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validateTrialBalance parses query params for GET /reports/trial-balance.
func (s *Server) validateTrialBalance() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			query := trialBalanceQuery{Filter: aggregate.Filter{
				Mode:          aggregate.Mode(q.Get("mode")),
				Source:        ledger.EntrySource(q.Get("source")),
				DimensionType: ledger.DimensionType(q.Get("dimension_type")),
			}}
			if raw := q.Get("as_of"); raw != "" {
				t, err := parseTime(raw)
				if err != nil {
					badRequest(w, "invalid as_of")
					return
				}
				query.AsOf = t
			}
			if raw := q.Get("account_ids"); raw != "" {
				ids, err := parseUUIDList(raw)
				if err != nil {
					badRequest(w, "invalid account_ids")
					return
				}
				query.Filter.AccountIDs = ids
			}
			if raw := q.Get("dimension_value"); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					badRequest(w, "invalid dimension_value")
					return
				}
				query.Filter.DimensionValue = id
			}
			ctx := context.WithValue(r.Context(), ctxKeyTrialBalance, query)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validatePostAccount decodes the POST /accounts body.
func (s *Server) validatePostAccount() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !requireJSON(w, r) {
				return
			}
			var req postAccountRequest
			if err := decodeJSON(r, &req); err != nil {
				badRequest(w, "invalid JSON: "+err.Error())
				return
			}
			if err := meta.New(req.Metadata).Validate(); err != nil {
				badRequest(w, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostAccount, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseTime accepts RFC3339 or a bare calendar date, normalized to UTC.
func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseUUIDList(raw string) ([]uuid.UUID, error) {
	parts := strings.Split(raw, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
