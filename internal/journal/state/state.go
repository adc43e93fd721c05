package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/escrow-hub/escrow-hub/internal/domain/deal"
	"github.com/escrow-hub/escrow-hub/internal/domain/milestone"
	"github.com/escrow-hub/escrow-hub/internal/journal/protocol"
)

// DealRecord is the replicated view of one deal.
type DealRecord struct {
	DealID      string      `json:"deal_id"`
	Number      string      `json:"number"`
	Title       string      `json:"title"`
	Status      deal.Status `json:"status"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	LastEventID string      `json:"last_event_id,omitempty"`
}

// PartyRecord tracks one party's invitation decision within a deal.
type PartyRecord struct {
	PartyID   string                `json:"party_id"`
	DealID    string                `json:"deal_id"`
	Name      string                `json:"name"`
	Role      string                `json:"role,omitempty"`
	Decision  deal.InvitationStatus `json:"decision"`
	DecidedAt *time.Time            `json:"decided_at,omitempty"`
}

// ResponseRecord is the latest milestone response of one party. A later
// response from the same party replaces the earlier one.
type ResponseRecord struct {
	MilestoneID string          `json:"milestone_id"`
	DealID      string          `json:"deal_id"`
	PartyID     string          `json:"party_id"`
	Response    string          `json:"response"`
	Proposal    json.RawMessage `json:"proposal,omitempty"`
	Comment     *string         `json:"comment,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// Event is one committed history entry scoped to a deal.
type Event struct {
	EventID    string    `json:"event_id"`
	DealID     string    `json:"deal_id"`
	Type       string    `json:"type"`
	Actor      string    `json:"actor"`
	TxID       string    `json:"tx_id"`
	Detail     string    `json:"detail,omitempty"`
	CommitTime time.Time `json:"commit_time"`
}

// Snapshot is the full serializable machine state.
type Snapshot struct {
	Deals        map[string]*DealRecord               `json:"deals"`
	Parties      map[string]map[string]*PartyRecord   `json:"parties"`   // dealID -> partyID
	Responses    map[string]map[string]ResponseRecord `json:"responses"` // dealID -> milestoneID::partyID
	EventsByDeal map[string][]Event                   `json:"events_by_deal"`
	AppliedTx    map[string]bool                      `json:"applied_tx"`
	EventSeq     map[string]int                       `json:"event_seq"`
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Deals:        map[string]*DealRecord{},
		Parties:      map[string]map[string]*PartyRecord{},
		Responses:    map[string]map[string]ResponseRecord{},
		EventsByDeal: map[string][]Event{},
		AppliedTx:    map[string]bool{},
		EventSeq:     map[string]int{},
	}
}

// Machine is the deterministic deal journal applied through raft.
type Machine struct {
	mu       sync.RWMutex
	snapshot *Snapshot
}

func NewMachine() *Machine {
	return &Machine{snapshot: newSnapshot()}
}

// ApplyTx applies a committed tx. Replayed tx ids are no-ops.
func (m *Machine) ApplyTx(tx protocol.Tx, commitTime time.Time) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snapshot.AppliedTx[tx.TxID] {
		return nil
	}

	var err error
	switch tx.Op {
	case protocol.OpDealOpen:
		err = m.applyDealOpenLocked(tx, commitTime)
	case protocol.OpPartyDecision:
		err = m.applyPartyDecisionLocked(tx, commitTime)
	case protocol.OpMilestoneDecision:
		err = m.applyMilestoneDecisionLocked(tx, commitTime)
	case protocol.OpStatusChange:
		err = m.applyStatusChangeLocked(tx, commitTime)
	default:
		err = fmt.Errorf("unsupported op: %s", tx.Op)
	}
	if err != nil {
		return err
	}

	m.snapshot.AppliedTx[tx.TxID] = true
	return nil
}

func (m *Machine) applyDealOpenLocked(tx protocol.Tx, commitTime time.Time) error {
	payload, err := protocol.DecodePayload[protocol.DealOpenPayload](tx.Payload)
	if err != nil {
		return fmt.Errorf("invalid DEAL_OPEN payload: %w", err)
	}
	dealID := strings.TrimSpace(payload.DealID)
	if dealID == "" {
		return errors.New("deal_id is required")
	}
	if strings.TrimSpace(payload.Title) == "" {
		return errors.New("title is required")
	}
	if _, exists := m.snapshot.Deals[dealID]; exists {
		return fmt.Errorf("deal already open: %s", dealID)
	}

	m.snapshot.Deals[dealID] = &DealRecord{
		DealID:    dealID,
		Number:    strings.TrimSpace(payload.Number),
		Title:     strings.TrimSpace(payload.Title),
		Status:    deal.StatusCreated,
		CreatedBy: tx.Actor,
		CreatedAt: commitTime,
		UpdatedAt: commitTime,
	}
	m.snapshot.Parties[dealID] = map[string]*PartyRecord{}
	m.snapshot.Responses[dealID] = map[string]ResponseRecord{}

	for _, ref := range payload.Parties {
		partyID := strings.TrimSpace(ref.PartyID)
		if partyID == "" {
			return errors.New("party_id is required")
		}
		if _, dup := m.snapshot.Parties[dealID][partyID]; dup {
			return fmt.Errorf("duplicate party: %s", partyID)
		}
		m.snapshot.Parties[dealID][partyID] = &PartyRecord{
			PartyID:  partyID,
			DealID:   dealID,
			Name:     strings.TrimSpace(ref.Name),
			Role:     strings.TrimSpace(ref.Role),
			Decision: deal.InvitationPending,
		}
	}

	m.appendEventLocked(tx, dealID, "DEAL_OPENED", payload.Title, commitTime)
	return nil
}

func (m *Machine) applyPartyDecisionLocked(tx protocol.Tx, commitTime time.Time) error {
	payload, err := protocol.DecodePayload[protocol.PartyDecisionPayload](tx.Payload)
	if err != nil {
		return fmt.Errorf("invalid PARTY_DECISION payload: %w", err)
	}
	dealID := strings.TrimSpace(payload.DealID)
	rec, exists := m.snapshot.Deals[dealID]
	if !exists {
		return fmt.Errorf("deal not found: %s", dealID)
	}
	partyID := strings.TrimSpace(payload.PartyID)
	party, exists := m.snapshot.Parties[dealID][partyID]
	if !exists {
		return fmt.Errorf("party not found: %s", partyID)
	}

	decision := deal.InvitationStatus(strings.ToUpper(strings.TrimSpace(payload.Decision)))
	switch party.Decision {
	case deal.InvitationDeclined:
		return deal.ErrInvitationDeclined
	case deal.InvitationAccepted:
		if decision == deal.InvitationAccepted {
			return nil
		}
		return deal.ErrInvitationAccepted
	}
	if decision != deal.InvitationAccepted && decision != deal.InvitationDeclined {
		return fmt.Errorf("invalid decision: %s", payload.Decision)
	}

	party.Decision = decision
	at := commitTime
	party.DecidedAt = &at
	rec.UpdatedAt = commitTime

	m.appendEventLocked(tx, dealID, "PARTY_"+string(decision), partyID, commitTime)
	return nil
}

func (m *Machine) applyMilestoneDecisionLocked(tx protocol.Tx, commitTime time.Time) error {
	payload, err := protocol.DecodePayload[protocol.MilestoneDecisionPayload](tx.Payload)
	if err != nil {
		return fmt.Errorf("invalid MILESTONE_DECISION payload: %w", err)
	}
	dealID := strings.TrimSpace(payload.DealID)
	rec, exists := m.snapshot.Deals[dealID]
	if !exists {
		return fmt.Errorf("deal not found: %s", dealID)
	}
	milestoneID := strings.TrimSpace(payload.MilestoneID)
	if milestoneID == "" {
		return errors.New("milestone_id is required")
	}
	partyID := strings.TrimSpace(payload.PartyID)
	if _, exists := m.snapshot.Parties[dealID][partyID]; !exists {
		return fmt.Errorf("party not found: %s", partyID)
	}

	responseType := milestone.ResponseType(strings.ToUpper(strings.TrimSpace(payload.Response)))
	if err := milestone.ValidateResponseType(responseType); err != nil {
		return err
	}
	if responseType == milestone.ResponseAmendmentProposed && len(payload.Proposal) == 0 {
		return milestone.ErrProposalMissing
	}

	key := milestoneID + "::" + partyID
	m.snapshot.Responses[dealID][key] = ResponseRecord{
		MilestoneID: milestoneID,
		DealID:      dealID,
		PartyID:     partyID,
		Response:    string(responseType),
		Proposal:    payload.Proposal,
		Comment:     payload.Comment,
		SubmittedAt: commitTime,
	}
	rec.UpdatedAt = commitTime

	m.appendEventLocked(tx, dealID, "MILESTONE_"+string(responseType), milestoneID, commitTime)
	return nil
}

func (m *Machine) applyStatusChangeLocked(tx protocol.Tx, commitTime time.Time) error {
	payload, err := protocol.DecodePayload[protocol.StatusChangePayload](tx.Payload)
	if err != nil {
		return fmt.Errorf("invalid STATUS_CHANGE payload: %w", err)
	}
	dealID := strings.TrimSpace(payload.DealID)
	rec, exists := m.snapshot.Deals[dealID]
	if !exists {
		return fmt.Errorf("deal not found: %s", dealID)
	}

	from := deal.Status(strings.ToUpper(strings.TrimSpace(payload.From)))
	to := deal.Status(strings.ToUpper(strings.TrimSpace(payload.To)))
	if rec.Status != from {
		return fmt.Errorf("stale transition: deal is %s, tx expected %s", rec.Status, from)
	}
	if err := deal.ValidateTransition(from, to); err != nil {
		return err
	}

	rec.Status = to
	rec.UpdatedAt = commitTime

	detail := fmt.Sprintf("%s -> %s", from, to)
	if reason := strings.TrimSpace(payload.Reason); reason != "" {
		detail += ": " + reason
	}
	m.appendEventLocked(tx, dealID, "STATUS_CHANGED", detail, commitTime)
	return nil
}

func (m *Machine) appendEventLocked(tx protocol.Tx, dealID, eventType, detail string, commitTime time.Time) {
	m.snapshot.EventSeq[dealID]++
	event := Event{
		EventID:    fmt.Sprintf("%s:%s:%06d", tx.TxID, dealID, m.snapshot.EventSeq[dealID]),
		DealID:     dealID,
		Type:       eventType,
		Actor:      tx.Actor,
		TxID:       tx.TxID,
		Detail:     detail,
		CommitTime: commitTime,
	}
	m.snapshot.EventsByDeal[dealID] = append(m.snapshot.EventsByDeal[dealID], event)
	if rec, ok := m.snapshot.Deals[dealID]; ok {
		rec.LastEventID = event.EventID
	}
}

// GetDeal returns a copy of one deal record.
func (m *Machine) GetDeal(dealID string) (DealRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.snapshot.Deals[dealID]
	if !ok {
		return DealRecord{}, false
	}
	return *rec, true
}

// ListDeals returns all deals ordered by creation time.
func (m *Machine) ListDeals() []DealRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DealRecord, 0, len(m.snapshot.Deals))
	for _, rec := range m.snapshot.Deals {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].DealID < out[j].DealID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListParties returns a deal's parties ordered by party id.
func (m *Machine) ListParties(dealID string) ([]PartyRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	parties, ok := m.snapshot.Parties[dealID]
	if !ok {
		return nil, false
	}
	out := make([]PartyRecord, 0, len(parties))
	for _, p := range parties {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartyID < out[j].PartyID })
	return out, true
}

// ListResponses returns a deal's milestone responses, optionally filtered
// by milestone id, ordered by submission time.
func (m *Machine) ListResponses(dealID, milestoneID string) ([]ResponseRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	responses, ok := m.snapshot.Responses[dealID]
	if !ok {
		return nil, false
	}
	out := make([]ResponseRecord, 0, len(responses))
	for _, r := range responses {
		if milestoneID != "" && r.MilestoneID != milestoneID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].PartyID < out[j].PartyID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, true
}

// ListEvents returns a page of a deal's ordered history.
func (m *Machine) ListEvents(dealID string, limit, offset int) ([]Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.snapshot.Deals[dealID]; !ok {
		return nil, false
	}
	events := m.snapshot.EventsByDeal[dealID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(events) {
		return []Event{}, true
	}
	end := len(events)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]Event, end-offset)
	copy(out, events[offset:end])
	return out, true
}

// Stats summarizes machine contents.
type Stats struct {
	Deals     int `json:"deals"`
	Parties   int `json:"parties"`
	Responses int `json:"responses"`
	Events    int `json:"events"`
	AppliedTx int `json:"applied_tx"`
}

func (m *Machine) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Deals:     len(m.snapshot.Deals),
		AppliedTx: len(m.snapshot.AppliedTx),
	}
	for _, parties := range m.snapshot.Parties {
		stats.Parties += len(parties)
	}
	for _, responses := range m.snapshot.Responses {
		stats.Responses += len(responses)
	}
	for _, events := range m.snapshot.EventsByDeal {
		stats.Events += len(events)
	}
	return stats
}

// Marshal serializes full machine state for raft snapshots.
func (m *Machine) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(m.snapshot)
}

// Unmarshal replaces machine state from a raft snapshot.
func (m *Machine) Unmarshal(data []byte) error {
	snapshot := newSnapshot()
	if err := json.Unmarshal(data, snapshot); err != nil {
		return err
	}
	if snapshot.Deals == nil {
		snapshot.Deals = map[string]*DealRecord{}
	}
	if snapshot.Parties == nil {
		snapshot.Parties = map[string]map[string]*PartyRecord{}
	}
	if snapshot.Responses == nil {
		snapshot.Responses = map[string]map[string]ResponseRecord{}
	}
	if snapshot.EventsByDeal == nil {
		snapshot.EventsByDeal = map[string][]Event{}
	}
	if snapshot.AppliedTx == nil {
		snapshot.AppliedTx = map[string]bool{}
	}
	if snapshot.EventSeq == nil {
		snapshot.EventSeq = map[string]int{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = snapshot
	return nil
}
