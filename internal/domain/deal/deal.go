package deal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents deal lifecycle status.
type Status string

const (
	StatusCreated            Status = "CREATED"
	StatusInvited            Status = "INVITED"
	StatusPendingNegotiation Status = "PENDING_NEGOTIATION"
	StatusAccepted           Status = "ACCEPTED"
	StatusFunded             Status = "FUNDED"
	StatusInProgress         Status = "IN_PROGRESS"
	StatusReadyToRelease     Status = "READY_TO_RELEASE"
	StatusReleased           Status = "RELEASED"
	StatusCompleted          Status = "COMPLETED"
	StatusDisputed           Status = "DISPUTED"
	StatusCancelled          Status = "CANCELLED"
)

// transitions is the authoritative deal lifecycle table. Every status write
// goes through ValidateTransition; callers never re-derive this.
var transitions = map[Status][]Status{
	StatusCreated:            {StatusInvited, StatusCancelled},
	StatusInvited:            {StatusPendingNegotiation, StatusAccepted, StatusCancelled},
	StatusPendingNegotiation: {StatusAccepted, StatusCancelled, StatusDisputed},
	StatusAccepted:           {StatusFunded, StatusDisputed, StatusCancelled},
	StatusFunded:             {StatusInProgress, StatusDisputed},
	StatusInProgress:         {StatusReadyToRelease, StatusDisputed},
	StatusReadyToRelease:     {StatusReleased, StatusDisputed},
	StatusReleased:           {StatusCompleted},
	StatusDisputed:           {StatusInProgress, StatusCancelled},
	StatusCompleted:          {},
	StatusCancelled:          {},
}

// TransitionError reports a status write not present in the transition table.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid deal status transition: %s -> %s", e.From, e.To)
}

// ValidateTransition checks the lifecycle table.
func ValidateTransition(from, to Status) error {
	allowed, ok := transitions[from]
	if !ok {
		return &TransitionError{From: from, To: to}
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// ActivatedOrLater reports whether the deal has passed the activation gate.
// Activation checks are a no-op for any such status.
func (s Status) ActivatedOrLater() bool {
	switch s {
	case StatusAccepted, StatusFunded, StatusInProgress, StatusReadyToRelease,
		StatusReleased, StatusCompleted, StatusDisputed, StatusCancelled:
		return true
	default:
		return false
	}
}

func ValidateStatus(s Status) error {
	if _, ok := transitions[s]; !ok {
		return fmt.Errorf("invalid deal status: %s", s)
	}
	return nil
}

var (
	ErrDealNotFound         = errors.New("deal not found")
	ErrPartyNotFound        = errors.New("party not found")
	ErrContractNotFound     = errors.New("contract not found")
	ErrContractNotEffective = errors.New("contract is not effective")
	ErrInvitationDeclined   = errors.New("invitation already declined")
	ErrInvitationAccepted   = errors.New("invitation already accepted")
	ErrNotPartyMember       = errors.New("account is not a member of the party")
	ErrPartyNotInDeal       = errors.New("party does not belong to the deal")
)

// Deal represents a multi-party staged transaction.
type Deal struct {
	ID                  int64      `json:"id"`
	DealID              uuid.UUID  `json:"dealId"`
	Number              string     `json:"number"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	Status              Status     `json:"status"`
	AllPartiesConfirmed bool       `json:"allPartiesConfirmed"`
	CreatedBy           uuid.UUID  `json:"createdBy"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	ActivatedAt         *time.Time `json:"activatedAt,omitempty"`
}

// FormatNumber renders a human-readable deal sequence number.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("DL-%d-%06d", year, seq)
}

// PartyRole represents a party's side in the deal.
type PartyRole string

const (
	RoleBuyer  PartyRole = "BUYER"
	RoleSeller PartyRole = "SELLER"
	RoleAgent  PartyRole = "AGENT"
	RoleBroker PartyRole = "BROKER"
)

func ValidatePartyRole(r PartyRole) error {
	switch r {
	case RoleBuyer, RoleSeller, RoleAgent, RoleBroker:
		return nil
	default:
		return fmt.Errorf("invalid party role: %s", r)
	}
}

// InvitationStatus represents a party's invitation response state.
// PENDING may move to ACCEPTED or DECLINED; both are terminal.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationDeclined InvitationStatus = "DECLINED"
)

func (s InvitationStatus) IsTerminal() bool {
	return s == InvitationAccepted || s == InvitationDeclined
}

// Party represents one participating side of a deal.
type Party struct {
	ID               int64            `json:"id"`
	PartyID          uuid.UUID        `json:"partyId"`
	DealID           uuid.UUID        `json:"dealId"`
	Name             string           `json:"name"`
	Role             PartyRole        `json:"role"`
	ContactEmail     string           `json:"contactEmail"`
	InvitationStatus InvitationStatus `json:"invitationStatus"`
	InvitationToken  string           `json:"-"`
	InvitedAt        *time.Time       `json:"invitedAt,omitempty"`
	RespondedAt      *time.Time       `json:"respondedAt,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// Respond applies an invitation decision, enforcing monotonicity: a party
// that accepted never flips to declined and vice versa.
func (p *Party) Respond(decision InvitationStatus, at time.Time) error {
	switch p.InvitationStatus {
	case InvitationDeclined:
		return ErrInvitationDeclined
	case InvitationAccepted:
		if decision == InvitationAccepted {
			return nil
		}
		return ErrInvitationAccepted
	}
	if decision != InvitationAccepted && decision != InvitationDeclined {
		return fmt.Errorf("invalid invitation decision: %s", decision)
	}
	p.InvitationStatus = decision
	p.RespondedAt = &at
	return nil
}

// PartyMember links an authenticated account to a party. Several accounts
// may represent one party; consensus is per party, not per member.
type PartyMember struct {
	ID        int64     `json:"id"`
	PartyID   uuid.UUID `json:"partyId"`
	AccountID uuid.UUID `json:"accountId"`
	AddedBy   *string   `json:"addedBy,omitempty"`
	AddedAt   time.Time `json:"addedAt"`
}

// Contract is an immutable versioned snapshot of deal terms. Amendments
// create a new version; exactly one version per deal is effective.
type Contract struct {
	ID          int64           `json:"id"`
	ContractID  uuid.UUID       `json:"contractId"`
	DealID      uuid.UUID       `json:"dealId"`
	Version     int             `json:"version"`
	Terms       json.RawMessage `json:"terms,omitempty"`
	IsEffective bool            `json:"isEffective"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	EffectiveAt *time.Time      `json:"effectiveAt,omitempty"`
}
