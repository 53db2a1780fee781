package v1

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/service/directory"
)

func (s *Server) postAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := r.Context().Value(ctxKeyPostAccount).(postAccountRequest)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "internal error", "internal")
		return
	}
	acc, err := s.directory.CreateAccount(r.Context(), directory.CreateAccountInput{
		Code:         req.Code,
		Name:         req.Name,
		Currency:     req.Currency,
		Type:         req.Type,
		RequiredDims: req.RequiredDims,
		Metadata:     req.Metadata,
		System:       req.System,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toAccountResponse(acc))
}

// listAccounts returns the chart of accounts. With ?code= it resolves a
// single account by its code instead.
func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	if code := r.URL.Query().Get("code"); code != "" {
		acc, err := s.directory.GetAccountByCode(r.Context(), code)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		toJSON(w, http.StatusOK, []accountResponse{toAccountResponse(acc)})
		return
	}
	accounts, err := s.directory.ListAccounts(r.Context())
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toAccountResponse(a))
	}
	toJSON(w, http.StatusOK, resp)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid account id")
		return
	}
	acc, err := s.directory.GetAccount(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toAccountResponse(acc))
}

func (s *Server) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid account id")
		return
	}
	if !requireJSON(w, r) {
		return
	}
	var req updateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	acc, err := s.directory.UpdateAccount(r.Context(), directory.UpdateAccountInput{
		ID:           id,
		Name:         req.Name,
		Code:         req.Code,
		Type:         req.Type,
		Currency:     req.Currency,
		RequiredDims: req.RequiredDims,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toAccountResponse(acc))
}

func (s *Server) deactivateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid account id")
		return
	}
	acc, err := s.directory.DeactivateAccount(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toAccountResponse(acc))
}
