package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	appNegotiation "github.com/escrow-hub/escrow-hub/internal/application/negotiation"
	"github.com/escrow-hub/escrow-hub/internal/domain/milestone"
)

type milestoneResponseRequest struct {
	PartyID  uuid.UUID       `json:"party_id"`
	Type     string          `json:"type"`
	Proposal json.RawMessage `json:"proposal,omitempty"`
	Comment  *string         `json:"comment,omitempty"`
}

func (s *Server) getMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "milestoneId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid milestoneId")
		return
	}
	ms, err := s.negotiationSvc.GetMilestone(contextFromRequest(r), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ms)
}

func (s *Server) listMilestones(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "contractId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid contractId")
		return
	}
	milestones, err := s.negotiationSvc.ListMilestones(contextFromRequest(r), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"milestones": milestones})
}

func (s *Server) submitMilestoneResponse(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "milestoneId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid milestoneId")
		return
	}
	var req milestoneResponseRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.PartyID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "party_id is required")
		return
	}
	u := authUserFromContext(r.Context())
	if u == nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth")
		return
	}
	actor := appNegotiation.Actor{AccountID: u.AccountID, Username: u.Username}
	res, err := s.negotiationSvc.SubmitResponse(contextFromRequest(r), id, req.PartyID, actor, appNegotiation.SubmitInput{
		Type:     milestone.ResponseType(req.Type),
		Proposal: req.Proposal,
		Comment:  req.Comment,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) getMilestoneResponses(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "milestoneId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid milestoneId")
		return
	}
	res, err := s.negotiationSvc.GetResponses(contextFromRequest(r), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
