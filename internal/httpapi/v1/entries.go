package v1

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/service/posting"
)

func (s *Server) postEntry(w http.ResponseWriter, r *http.Request) {
	req, ok := r.Context().Value(ctxKeyPostEntry).(postEntryRequest)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "internal error", "internal")
		return
	}
	// Stamp the caller onto the entry so the audit trail survives without
	// a separate log.
	if c := callerFrom(r.Context()); c.ID != uuid.Nil {
		if req.Metadata == nil {
			req.Metadata = make(map[string]string, 1)
		}
		if _, exists := req.Metadata["posted_by"]; !exists {
			req.Metadata["posted_by"] = c.ID.String()
		}
	}
	entry, err := s.posting.Post(r.Context(), toPostRequest(req))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	query, ok := r.Context().Value(ctxKeyListEntries).(posting.EntryQuery)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "internal error", "internal")
		return
	}
	entries, next, err := s.posting.ListEntries(r.Context(), query)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	resp := listEntriesResponse{Items: make([]entryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Items = append(resp.Items, toEntryResponse(e))
	}
	if next != "" {
		resp.NextCursor = &next
	}
	toJSON(w, http.StatusOK, resp)
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid entry id")
		return
	}
	entry, err := s.posting.GetEntry(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toEntryResponse(entry))
}

func (s *Server) reverseEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid entry id")
		return
	}
	req, _ := r.Context().Value(ctxKeyReverseEntry).(reverseEntryRequest)
	rr := posting.ReverseRequest{EntryID: id, Memo: req.Memo}
	if req.Date != nil {
		rr.Date = *req.Date
	}
	reversal, err := s.posting.Reverse(r.Context(), rr)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toEntryResponse(reversal))
}

// voidNumber burns a sequence number so an integrity check can tell an
// intentional gap from a lost entry.
func (s *Server) voidNumber(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req voidNumberRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if req.Number <= 0 {
		badRequest(w, "number must be positive")
		return
	}
	if err := s.posting.VoidNumber(r.Context(), req.Number, req.Reason); err != nil {
		writeDomainErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
