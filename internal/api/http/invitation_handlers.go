package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/escrow-hub/escrow-hub/internal/domain/deal"
)

type invitationRespondRequest struct {
	Decision string `json:"decision"`
}

// respondInvitation records an invited party's decision. The token is the
// only credential; no session is required.
func (s *Server) respondInvitation(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "token required")
		return
	}
	var req invitationRespondRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	decision := deal.InvitationStatus(req.Decision)
	if decision != deal.InvitationAccepted && decision != deal.InvitationDeclined {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "decision must be ACCEPTED or DECLINED")
		return
	}
	res, err := s.invitationSvc.RecordResponse(contextFromRequest(r), token, decision)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) getParty(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "partyId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid partyId")
		return
	}
	p, err := s.invitationSvc.GetParty(contextFromRequest(r), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// resendInvitation rotates a pending party's token. The fresh token rides
// back in the response for out-of-band delivery.
func (s *Server) resendInvitation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "partyId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid partyId")
		return
	}
	p, err := s.invitationSvc.Resend(contextFromRequest(r), id, s.actorFromRequest(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"party":            p,
		"invitation_token": p.InvitationToken,
	})
}
