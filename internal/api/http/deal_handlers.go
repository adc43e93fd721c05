package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	appDeal "github.com/escrow-hub/escrow-hub/internal/application/deal"
	"github.com/escrow-hub/escrow-hub/internal/domain/deal"
)

type dealCreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type partyAddRequest struct {
	Name         string `json:"name"`
	Role         string `json:"role"`
	ContactEmail string `json:"contact_email,omitempty"`
}

type memberAddRequest struct {
	AccountID uuid.UUID `json:"account_id"`
}

type milestoneCreateRequest struct {
	Order       int             `json:"order"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Amount      *int64          `json:"amount,omitempty"`
	Currency    *string         `json:"currency,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
}

type contractCreateRequest struct {
	Terms      json.RawMessage          `json:"terms,omitempty"`
	Milestones []milestoneCreateRequest `json:"milestones,omitempty"`
}

type lifecycleRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) createDeal(w http.ResponseWriter, r *http.Request) {
	var req dealCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	u := authUserFromContext(r.Context())
	if u == nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth")
		return
	}
	d, err := s.dealSvc.Create(contextFromRequest(r), appDeal.CreateInput{
		Title:       req.Title,
		Description: req.Description,
	}, u.AccountID, u.ActorString())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

func (s *Server) listDeals(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 200)
	filter := deal.Filter{}
	if v := r.URL.Query().Get("status"); v != "" {
		st := deal.Status(v)
		if err := deal.ValidateStatus(st); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		filter.Status = &st
	}
	if v := r.URL.Query().Get("createdBy"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid createdBy")
			return
		}
		filter.CreatedBy = &id
	}
	deals, err := s.dealSvc.List(contextFromRequest(r), filter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"deals": deals})
}

func (s *Server) getDeal(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "dealId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid dealId")
		return
	}
	d, err := s.dealSvc.Get(contextFromRequest(r), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) addParty(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "dealId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid dealId")
		return
	}
	var req partyAddRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	p, err := s.dealSvc.AddParty(contextFromRequest(r), id, appDeal.PartyInput{
		Name:         req.Name,
		Role:         deal.PartyRole(req.Role),
		ContactEmail: req.ContactEmail,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) listParties(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "dealId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid dealId")
		return
	}
	parties, err := s.dealSvc.ListParties(contextFromRequest(r), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"parties": parties})
}

func (s *Server) addPartyMember(w http.ResponseWriter, r *http.Request) {
	partyID, err := parseUUIDParam(r, "partyId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid partyId")
		return
	}
	var req memberAddRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.AccountID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "account_id is required")
		return
	}
	m, err := s.dealSvc.AddPartyMember(contextFromRequest(r), partyID, req.AccountID, s.actorFromRequest(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

// sendInvitations returns each party with its plaintext invitation token.
// Tokens are delivered out of band and are not readable again.
func (s *Server) sendInvitations(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "dealId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid dealId")
		return
	}
	parties, err := s.dealSvc.SendInvitations(contextFromRequest(r), id, s.actorFromRequest(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(parties))
	for _, p := range parties {
		out = append(out, map[string]interface{}{
			"party":            p,
			"invitation_token": p.InvitationToken,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"parties": out})
}

func (s *Server) createContract(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "dealId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid dealId")
		return
	}
	var req contractCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	input := appDeal.ContractInput{Terms: req.Terms}
	for _, m := range req.Milestones {
		input.Milestones = append(input.Milestones, appDeal.MilestoneInput{
			Order:       m.Order,
			Title:       m.Title,
			Description: m.Description,
			Amount:      m.Amount,
			Currency:    m.Currency,
			Details:     m.Details,
		})
	}
	c, milestones, err := s.dealSvc.CreateContract(contextFromRequest(r), id, input, s.actorFromRequest(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"contract":   c,
		"milestones": milestones,
	})
}

func (s *Server) listContracts(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "dealId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid dealId")
		return
	}
	contracts, err := s.dealSvc.GetContracts(contextFromRequest(r), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"contracts": contracts})
}

func (s *Server) markContractEffective(w http.ResponseWriter, r *http.Request) {
	dealID, err := parseUUIDParam(r, "dealId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid dealId")
		return
	}
	contractID, err := parseUUIDParam(r, "contractId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid contractId")
		return
	}
	c, err := s.dealSvc.MarkContractEffective(contextFromRequest(r), dealID, contractID, s.actorFromRequest(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) checkActivation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "dealId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid dealId")
		return
	}
	res, err := s.dealSvc.CheckActivation(contextFromRequest(r), id, s.actorFromRequest(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type lifecycleFunc func(ctx context.Context, dealID uuid.UUID, actor, reason string) (*deal.Deal, error)

func (s *Server) lifecycle(fn lifecycleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam(r, "dealId")
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid dealId")
			return
		}
		var req lifecycleRequest
		_ = decodeBody(r, &req)
		d, err := fn(contextFromRequest(r), id, s.actorFromRequest(r), req.Reason)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, d)
	}
}
