package milestone

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents a milestone's negotiation status, derived purely from
// the live party responses and the deal's party count.
type Status string

const (
	StatusPendingResponses Status = "PENDING_RESPONSES"
	StatusAmendmentPending Status = "AMENDMENT_PENDING"
	StatusRejected         Status = "REJECTED"
	StatusApproved         Status = "APPROVED"
)

// ResponseType represents a party's response to a milestone.
type ResponseType string

const (
	ResponseAccepted          ResponseType = "ACCEPTED"
	ResponseRejected          ResponseType = "REJECTED"
	ResponseAmendmentProposed ResponseType = "AMENDMENT_PROPOSED"
)

func ValidateResponseType(t ResponseType) error {
	switch t {
	case ResponseAccepted, ResponseRejected, ResponseAmendmentProposed:
		return nil
	default:
		return errors.New("invalid milestone response type")
	}
}

var (
	ErrNotFound        = errors.New("milestone not found")
	ErrAlreadyApproved = errors.New("milestone already approved")
	ErrProposalMissing = errors.New("amendment proposal payload is required")
)

// Milestone is one payment or performance step of a contract.
type Milestone struct {
	ID          int64           `json:"id"`
	MilestoneID uuid.UUID       `json:"milestoneId"`
	ContractID  uuid.UUID       `json:"contractId"`
	DealID      uuid.UUID       `json:"dealId"`
	Order       int             `json:"order"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Amount      *int64          `json:"amount,omitempty"`
	Currency    *string         `json:"currency,omitempty"`
	Status      Status          `json:"status"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// PartyResponse is the live response of one party to one milestone. A later
// submission from the same party replaces the earlier one, never appends.
type PartyResponse struct {
	ID          int64           `json:"id"`
	ResponseID  uuid.UUID       `json:"responseId"`
	MilestoneID uuid.UUID       `json:"milestoneId"`
	PartyID     uuid.UUID       `json:"partyId"`
	Type        ResponseType    `json:"type"`
	Proposal    json.RawMessage `json:"proposal,omitempty"`
	Comment     *string         `json:"comment,omitempty"`
	SubmittedBy string          `json:"submittedBy"`
	SubmittedAt time.Time       `json:"submittedAt"`
}

// DeriveStatus computes the aggregate status from live responses, first
// matching rule wins:
//
//  1. any REJECTED           -> REJECTED
//  2. any AMENDMENT_PROPOSED -> AMENDMENT_PENDING
//  3. all parties responded ACCEPTED (unanimity) -> APPROVED
//  4. otherwise              -> PENDING_RESPONSES
//
// A single rejection vetoes any number of acceptances, and a pending
// amendment blocks approval. Zero parties are vacuously unanimous.
func DeriveStatus(responses []*PartyResponse, partyCount int) Status {
	accepted := 0
	for _, r := range responses {
		switch r.Type {
		case ResponseRejected:
			return StatusRejected
		case ResponseAccepted:
			accepted++
		}
	}
	for _, r := range responses {
		if r.Type == ResponseAmendmentProposed {
			return StatusAmendmentPending
		}
	}
	if accepted == partyCount && len(responses) == partyCount {
		return StatusApproved
	}
	return StatusPendingResponses
}

// Summary aggregates live responses for one milestone. Pending counts
// parties that have not responded at all, which is distinct from parties
// whose live response is not an acceptance.
type Summary struct {
	Total             int `json:"total"`
	Accepted          int `json:"accepted"`
	Rejected          int `json:"rejected"`
	AmendmentProposed int `json:"amendmentProposed"`
	Pending           int `json:"pending"`
}

// Summarize builds the response summary for a milestone.
func Summarize(responses []*PartyResponse, partyCount int) Summary {
	s := Summary{Total: partyCount}
	for _, r := range responses {
		switch r.Type {
		case ResponseAccepted:
			s.Accepted++
		case ResponseRejected:
			s.Rejected++
		case ResponseAmendmentProposed:
			s.AmendmentProposed++
		}
	}
	s.Pending = partyCount - len(responses)
	if s.Pending < 0 {
		s.Pending = 0
	}
	return s
}
