package v1

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/directory"
)

func (s *Server) listDimensionTypes(w http.ResponseWriter, r *http.Request) {
	defs, err := s.directory.ListDimensionTypes(r.Context())
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	resp := make([]dimensionTypeResponse, 0, len(defs))
	for _, d := range defs {
		resp = append(resp, dimensionTypeResponse{Code: d.Code, Name: d.Name, Active: d.Active})
	}
	toJSON(w, http.StatusOK, resp)
}

func (s *Server) registerDimensionType(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req dimensionTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if req.Code == "" {
		badRequest(w, "code is required")
		return
	}
	def := ledger.DimensionTypeDef{Code: req.Code, Name: req.Name, Active: true}
	if err := s.directory.RegisterDimensionType(r.Context(), def); err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, dimensionTypeResponse{Code: def.Code, Name: def.Name, Active: def.Active})
}

// listDimensionValues returns the values of one type. With ?code= it
// resolves a single value by its code instead.
func (s *Server) listDimensionValues(w http.ResponseWriter, r *http.Request) {
	typ := ledger.DimensionType(chi.URLParam(r, "type"))
	if code := r.URL.Query().Get("code"); code != "" {
		val, err := s.directory.GetDimensionValueByCode(r.Context(), typ, code)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		toJSON(w, http.StatusOK, []dimensionValueResponse{toDimensionValueResponse(val)})
		return
	}
	values, err := s.directory.ListDimensionValues(r.Context(), typ)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	resp := make([]dimensionValueResponse, 0, len(values))
	for _, v := range values {
		resp = append(resp, toDimensionValueResponse(v))
	}
	toJSON(w, http.StatusOK, resp)
}

func (s *Server) postDimensionValue(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req dimensionValueRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	val, err := s.directory.CreateDimensionValue(r.Context(), directory.CreateDimensionValueInput{
		Type: ledger.DimensionType(chi.URLParam(r, "type")),
		Code: req.Code,
		Name: req.Name,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toDimensionValueResponse(val))
}

func (s *Server) deactivateDimensionValue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid value id")
		return
	}
	val, err := s.directory.DeactivateDimensionValue(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toDimensionValueResponse(val))
}
