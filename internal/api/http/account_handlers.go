package httpapi

import (
	"net/http"

	appAccount "github.com/escrow-hub/escrow-hub/internal/application/account"
	domainAccount "github.com/escrow-hub/escrow-hub/internal/domain/account"
)

type accountCreateRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role"`
	Status      string `json:"status,omitempty"`
}

type accountUpdateRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Email       *string `json:"email,omitempty"`
	Role        *string `json:"role,omitempty"`
	Status      *string `json:"status,omitempty"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req accountCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	a, err := s.accountSvc.Create(contextFromRequest(r), appAccount.CreateInput{
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Role:        domainAccount.Role(req.Role),
		Status:      domainAccount.Status(req.Status),
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 200)
	filter := domainAccount.Filter{}
	if v := r.URL.Query().Get("role"); v != "" {
		role := domainAccount.Role(v)
		filter.Role = &role
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := domainAccount.Status(v)
		filter.Status = &st
	}
	accounts, err := s.accountSvc.List(contextFromRequest(r), filter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "accountId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid accountId")
		return
	}
	a, err := s.accountSvc.Get(contextFromRequest(r), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if a == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "account not found")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "accountId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid accountId")
		return
	}
	var req accountUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	input := appAccount.UpdateInput{
		DisplayName: req.DisplayName,
		Email:       req.Email,
	}
	if req.Role != nil {
		role := domainAccount.Role(*req.Role)
		input.Role = &role
	}
	if req.Status != nil {
		st := domainAccount.Status(*req.Status)
		input.Status = &st
	}
	a, err := s.accountSvc.Update(contextFromRequest(r), id, input)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) setAccountPassword(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "accountId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid accountId")
		return
	}
	var req passwordRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if err := s.accountSvc.SetPassword(contextFromRequest(r), id, req.Password); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "OK"})
}
