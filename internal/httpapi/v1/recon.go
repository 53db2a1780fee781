package v1

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/service/recon"
)

func (s *Server) runReconciliation(w http.ResponseWriter, r *http.Request) {
	if s.recon == nil {
		notFound(w)
		return
	}
	if !requireJSON(w, r) {
		return
	}
	var req runReconciliationRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if req.BankAccountID == uuid.Nil {
		badRequest(w, "bank_account_id is required")
		return
	}
	rr := recon.RunRequest{
		BankAccountID: req.BankAccountID,
		PeriodStart:   req.PeriodStart,
		PeriodEnd:     req.PeriodEnd,
		OpeningMinor:  req.OpeningMinor,
		ClosingMinor:  req.ClosingMinor,
	}
	if req.StatementDate != nil {
		rr.StatementDate = *req.StatementDate
	}
	rec, err := s.recon.Reconcile(r.Context(), rr)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toReconciliationResponse(rec))
}

func (s *Server) listReconciliations(w http.ResponseWriter, r *http.Request) {
	if s.recon == nil {
		notFound(w)
		return
	}
	bankAccountID, err := uuid.Parse(r.URL.Query().Get("bank_account_id"))
	if err != nil {
		badRequest(w, "invalid bank_account_id")
		return
	}
	recs, err := s.recon.List(r.Context(), bankAccountID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	resp := make([]reconciliationResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, toReconciliationResponse(rec))
	}
	toJSON(w, http.StatusOK, resp)
}

func (s *Server) getReconciliation(w http.ResponseWriter, r *http.Request) {
	if s.recon == nil {
		notFound(w)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid reconciliation id")
		return
	}
	rec, err := s.recon.Get(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toReconciliationResponse(rec))
}

func (s *Server) confirmItem(w http.ResponseWriter, r *http.Request) {
	if s.recon == nil {
		notFound(w)
		return
	}
	reconID, itemID, ok := reconItemIDs(w, r)
	if !ok {
		return
	}
	var req confirmItemRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "invalid JSON: "+err.Error())
			return
		}
	}
	item, err := s.recon.ConfirmItem(r.Context(), reconID, itemID, req.LineID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toItemResponse(item))
}

func (s *Server) rejectItem(w http.ResponseWriter, r *http.Request) {
	if s.recon == nil {
		notFound(w)
		return
	}
	reconID, itemID, ok := reconItemIDs(w, r)
	if !ok {
		return
	}
	item, err := s.recon.RejectItem(r.Context(), reconID, itemID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toItemResponse(item))
}

func reconItemIDs(w http.ResponseWriter, r *http.Request) (reconID, itemID uuid.UUID, ok bool) {
	reconID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid reconciliation id")
		return uuid.Nil, uuid.Nil, false
	}
	itemID, err = uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		badRequest(w, "invalid item id")
		return uuid.Nil, uuid.Nil, false
	}
	return reconID, itemID, true
}

// uploadStatement imports a bank statement posted as the raw request body.
// The parser format comes from the format query param, defaulting to the
// standard CSV layout.
func (s *Server) uploadStatement(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		notFound(w)
		return
	}
	bankAccountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid bank account id")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "standard"
	}
	res, err := s.importer.ImportReader(r.Context(), bankAccountID, format, r.Body)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toImportResultResponse(res))
}
