package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	appAccount "github.com/escrow-hub/escrow-hub/internal/application/account"
	appAudit "github.com/escrow-hub/escrow-hub/internal/application/audit"
	appAuth "github.com/escrow-hub/escrow-hub/internal/application/auth"
	appDeal "github.com/escrow-hub/escrow-hub/internal/application/deal"
	appInvitation "github.com/escrow-hub/escrow-hub/internal/application/invitation"
	appNegotiation "github.com/escrow-hub/escrow-hub/internal/application/negotiation"
	appNotification "github.com/escrow-hub/escrow-hub/internal/application/notification"
	domainAccount "github.com/escrow-hub/escrow-hub/internal/domain/account"
	"github.com/escrow-hub/escrow-hub/internal/domain/deal"
	"github.com/escrow-hub/escrow-hub/internal/domain/milestone"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	dealSvc             *appDeal.Service
	invitationSvc       *appInvitation.Service
	negotiationSvc      *appNegotiation.Service
	notificationSvc     *appNotification.Service
	auditSvc            *appAudit.Service
	authSvc             *appAuth.Service
	accountSvc          *appAccount.Service
	sseHub              *sse.Hub
	sessionCookieName   string
	sessionCookieSecure bool
}

func NewServer(
	dealSvc *appDeal.Service,
	invitationSvc *appInvitation.Service,
	negotiationSvc *appNegotiation.Service,
	notificationSvc *appNotification.Service,
	auditSvc *appAudit.Service,
	authSvc *appAuth.Service,
	accountSvc *appAccount.Service,
	sseHub *sse.Hub,
	sessionCookieName string,
	sessionCookieSecure bool,
) *Server {
	return &Server{
		dealSvc:             dealSvc,
		invitationSvc:       invitationSvc,
		negotiationSvc:      negotiationSvc,
		notificationSvc:     notificationSvc,
		auditSvc:            auditSvc,
		authSvc:             authSvc,
		accountSvc:          accountSvc,
		sseHub:              sseHub,
		sessionCookieName:   sessionCookieName,
		sessionCookieSecure: sessionCookieSecure,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.login)
			r.Post("/bootstrap", s.bootstrapAdmin)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Post("/logout", s.logout)
				r.Get("/me", s.me)
			})
		})

		// Invited parties respond via their out-of-band token; they hold
		// no session.
		r.Post("/invitations/{token}/respond", s.respondInvitation)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/deals", func(r chi.Router) {
				r.Post("/", s.createDeal)
				r.Get("/", s.listDeals)
				r.Get("/{dealId}", s.getDeal)

				r.Post("/{dealId}/parties", s.addParty)
				r.Get("/{dealId}/parties", s.listParties)
				r.Post("/{dealId}/invitations/send", s.sendInvitations)

				r.Post("/{dealId}/contracts", s.createContract)
				r.Get("/{dealId}/contracts", s.listContracts)
				r.Post("/{dealId}/contracts/{contractId}/effective", s.markContractEffective)

				r.Post("/{dealId}/activate", s.checkActivation)
				r.Post("/{dealId}/fund", s.lifecycle(s.dealSvc.Fund))
				r.Post("/{dealId}/start", s.lifecycle(s.dealSvc.Start))
				r.Post("/{dealId}/ready", s.lifecycle(s.dealSvc.MarkReady))
				r.Post("/{dealId}/release", s.lifecycle(s.dealSvc.Release))
				r.Post("/{dealId}/complete", s.lifecycle(s.dealSvc.Complete))
				r.Post("/{dealId}/dispute", s.lifecycle(s.dealSvc.Dispute))
				r.Post("/{dealId}/resolve", s.lifecycle(s.dealSvc.Resolve))
				r.Post("/{dealId}/cancel", s.lifecycle(s.dealSvc.Cancel))
			})

			r.Route("/parties", func(r chi.Router) {
				r.Get("/{partyId}", s.getParty)
				r.Post("/{partyId}/members", s.addPartyMember)
				r.Post("/{partyId}/resend", s.resendInvitation)
			})

			r.Route("/contracts", func(r chi.Router) {
				r.Get("/{contractId}/milestones", s.listMilestones)
			})

			r.Route("/milestones", func(r chi.Router) {
				r.Get("/{milestoneId}", s.getMilestone)
				r.Post("/{milestoneId}/responses", s.submitMilestoneResponse)
				r.Get("/{milestoneId}/responses", s.getMilestoneResponses)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", s.listNotifications)
				r.Get("/{notificationId}", s.getNotification)
				r.Post("/{notificationId}/send", s.sendNotification)
				r.Get("/sse", s.sseEndpoint)
			})

			r.Route("/rules", func(r chi.Router) {
				r.With(s.requireRole(string(domainAccount.RoleAdmin))).Post("/", s.createRule)
				r.Get("/", s.listRules)
				r.With(s.requireRole(string(domainAccount.RoleAdmin))).Post("/{ruleId}/enable", s.enableRule)
				r.With(s.requireRole(string(domainAccount.RoleAdmin))).Post("/{ruleId}/disable", s.disableRule)
			})

			r.Route("/accounts", func(r chi.Router) {
				r.With(s.requireRole(string(domainAccount.RoleAdmin))).Post("/", s.createAccount)
				r.With(s.requireRole(string(domainAccount.RoleAdmin))).Get("/", s.listAccounts)
				r.Get("/{accountId}", s.getAccount)
				r.With(s.requireRole(string(domainAccount.RoleAdmin))).Patch("/{accountId}", s.updateAccount)
				r.With(s.requireRole(string(domainAccount.RoleAdmin))).Put("/{accountId}/password", s.setAccountPassword)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireRole(string(domainAccount.RoleAdmin)))
				r.Get("/audit", s.queryAudit)
				r.Get("/audit/{auditId}", s.getAudit)
				r.Post("/audit/{auditId}/verify", s.verifyAudit)
				r.Get("/audit/entity/{entityType}/{entityId}", s.getEntityHistory)
			})
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondDomainError maps service errors onto HTTP statuses. Unknown errors
// are reported as bad requests rather than internal errors; repositories wrap
// genuine infrastructure failures distinctly.
func respondDomainError(w http.ResponseWriter, err error) {
	var te *deal.TransitionError
	switch {
	case errors.Is(err, deal.ErrDealNotFound),
		errors.Is(err, deal.ErrPartyNotFound),
		errors.Is(err, deal.ErrContractNotFound),
		errors.Is(err, milestone.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, deal.ErrNotPartyMember):
		respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.As(err, &te),
		errors.Is(err, deal.ErrInvitationDeclined),
		errors.Is(err, deal.ErrInvitationAccepted),
		errors.Is(err, deal.ErrContractNotEffective),
		errors.Is(err, milestone.ErrAlreadyApproved):
		respondError(w, http.StatusConflict, "INVALID_STATE", err.Error())
	default:
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	}
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) actorFromRequest(r *http.Request) string {
	if u := authUserFromContext(r.Context()); u != nil {
		return u.ActorString()
	}
	return "system"
}

func contextFromRequest(r *http.Request) context.Context {
	return r.Context()
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
