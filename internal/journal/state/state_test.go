package state

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/escrow-hub/escrow-hub/internal/domain/deal"
	"github.com/escrow-hub/escrow-hub/internal/journal/protocol"
)

func TestMachineDealLifecycle(t *testing.T) {
	m := NewMachine()
	priv := mustKey(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mustApply(t, m, signedTx(t, priv, "tx-001", "deal-1", "account:admin", base,
		protocol.OpDealOpen, protocol.DealOpenPayload{
			DealID: "deal-1",
			Number: "DL-2026-000001",
			Title:  "Warehouse lease",
			Parties: []protocol.PartyRef{
				{PartyID: "party-a", Name: "Acme Corp", Role: "BUYER"},
				{PartyID: "party-b", Name: "Blue Logistics", Role: "SELLER"},
			},
		}))
	mustApply(t, m, signedTx(t, priv, "tx-002", "deal-1", "account:admin", base.Add(1*time.Second),
		protocol.OpStatusChange, protocol.StatusChangePayload{DealID: "deal-1", From: "CREATED", To: "INVITED"}))
	mustApply(t, m, signedTx(t, priv, "tx-003", "deal-1", "account:acme", base.Add(2*time.Second),
		protocol.OpPartyDecision, protocol.PartyDecisionPayload{DealID: "deal-1", PartyID: "party-a", Decision: "ACCEPTED"}))
	mustApply(t, m, signedTx(t, priv, "tx-004", "deal-1", "account:blue", base.Add(3*time.Second),
		protocol.OpPartyDecision, protocol.PartyDecisionPayload{DealID: "deal-1", PartyID: "party-b", Decision: "ACCEPTED"}))
	mustApply(t, m, signedTx(t, priv, "tx-005", "deal-1", "account:acme", base.Add(4*time.Second),
		protocol.OpMilestoneDecision, protocol.MilestoneDecisionPayload{DealID: "deal-1", MilestoneID: "ms-1", PartyID: "party-a", Response: "ACCEPTED"}))
	mustApply(t, m, signedTx(t, priv, "tx-006", "deal-1", "account:blue", base.Add(5*time.Second),
		protocol.OpMilestoneDecision, protocol.MilestoneDecisionPayload{DealID: "deal-1", MilestoneID: "ms-1", PartyID: "party-b", Response: "ACCEPTED"}))
	mustApply(t, m, signedTx(t, priv, "tx-007", "deal-1", "account:admin", base.Add(6*time.Second),
		protocol.OpStatusChange, protocol.StatusChangePayload{DealID: "deal-1", From: "INVITED", To: "PENDING_NEGOTIATION"}))

	rec, ok := m.GetDeal("deal-1")
	if !ok {
		t.Fatalf("deal not found")
	}
	if rec.Status != deal.StatusPendingNegotiation {
		t.Fatalf("expected PENDING_NEGOTIATION, got %s", rec.Status)
	}

	parties, ok := m.ListParties("deal-1")
	if !ok || len(parties) != 2 {
		t.Fatalf("expected 2 parties, got %+v", parties)
	}
	for _, p := range parties {
		if p.Decision != deal.InvitationAccepted {
			t.Fatalf("party %s not accepted: %s", p.PartyID, p.Decision)
		}
	}

	responses, ok := m.ListResponses("deal-1", "ms-1")
	if !ok || len(responses) != 2 {
		t.Fatalf("expected 2 milestone responses, got %+v", responses)
	}

	events, ok := m.ListEvents("deal-1", 100, 0)
	if !ok {
		t.Fatalf("deal not found for events")
	}
	if len(events) != 7 {
		t.Fatalf("expected 7 events, got %d", len(events))
	}
	if events[0].Type != "DEAL_OPENED" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
}

func TestMachineRejectsInvalidTransition(t *testing.T) {
	m := NewMachine()
	priv := mustKey(t)
	base := time.Date(2026, 2, 1, 1, 0, 0, 0, time.UTC)

	mustApply(t, m, signedTx(t, priv, "tx-b1", "deal-2", "account:admin", base,
		protocol.OpDealOpen, protocol.DealOpenPayload{DealID: "deal-2", Number: "DL-2026-000002", Title: "Fleet purchase"}))

	err := m.ApplyTx(signedTx(t, priv, "tx-b2", "deal-2", "account:admin", base.Add(time.Second),
		protocol.OpStatusChange, protocol.StatusChangePayload{DealID: "deal-2", From: "CREATED", To: "FUNDED"}), base.Add(time.Second))
	if err == nil {
		t.Fatalf("expected invalid transition rejection")
	}
	var te *deal.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}

	err = m.ApplyTx(signedTx(t, priv, "tx-b3", "deal-2", "account:admin", base.Add(2*time.Second),
		protocol.OpStatusChange, protocol.StatusChangePayload{DealID: "deal-2", From: "INVITED", To: "PENDING_NEGOTIATION"}), base.Add(2*time.Second))
	if err == nil {
		t.Fatalf("expected stale transition rejection")
	}

	rec, _ := m.GetDeal("deal-2")
	if rec.Status != deal.StatusCreated {
		t.Fatalf("status changed despite rejection: %s", rec.Status)
	}
}

func TestMachinePartyDecisionMonotonic(t *testing.T) {
	m := NewMachine()
	priv := mustKey(t)
	base := time.Date(2026, 2, 1, 2, 0, 0, 0, time.UTC)

	mustApply(t, m, signedTx(t, priv, "tx-c1", "deal-3", "account:admin", base,
		protocol.OpDealOpen, protocol.DealOpenPayload{
			DealID:  "deal-3",
			Number:  "DL-2026-000003",
			Title:   "Licensing",
			Parties: []protocol.PartyRef{{PartyID: "party-x", Name: "Xylo Ltd"}},
		}))
	mustApply(t, m, signedTx(t, priv, "tx-c2", "deal-3", "account:xylo", base.Add(time.Second),
		protocol.OpPartyDecision, protocol.PartyDecisionPayload{DealID: "deal-3", PartyID: "party-x", Decision: "ACCEPTED"}))

	// Repeat accept is a no-op, flip to declined is rejected.
	mustApply(t, m, signedTx(t, priv, "tx-c3", "deal-3", "account:xylo", base.Add(2*time.Second),
		protocol.OpPartyDecision, protocol.PartyDecisionPayload{DealID: "deal-3", PartyID: "party-x", Decision: "ACCEPTED"}))
	err := m.ApplyTx(signedTx(t, priv, "tx-c4", "deal-3", "account:xylo", base.Add(3*time.Second),
		protocol.OpPartyDecision, protocol.PartyDecisionPayload{DealID: "deal-3", PartyID: "party-x", Decision: "DECLINED"}), base.Add(3*time.Second))
	if !errors.Is(err, deal.ErrInvitationAccepted) {
		t.Fatalf("expected ErrInvitationAccepted, got %v", err)
	}

	events, _ := m.ListEvents("deal-3", 100, 0)
	if len(events) != 2 {
		t.Fatalf("expected open + single decision event, got %d", len(events))
	}
}

func TestMachineReplayedTxIsNoop(t *testing.T) {
	m := NewMachine()
	priv := mustKey(t)
	base := time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)

	tx := signedTx(t, priv, "tx-d1", "deal-4", "account:admin", base,
		protocol.OpDealOpen, protocol.DealOpenPayload{DealID: "deal-4", Number: "DL-2026-000004", Title: "Retainer"})
	mustApply(t, m, tx)
	mustApply(t, m, tx)

	stats := m.Stats()
	if stats.Deals != 1 || stats.Events != 1 || stats.AppliedTx != 1 {
		t.Fatalf("replay mutated state: %+v", stats)
	}
}

func TestMachineSnapshotRoundTrip(t *testing.T) {
	m := NewMachine()
	priv := mustKey(t)
	base := time.Date(2026, 2, 1, 4, 0, 0, 0, time.UTC)

	mustApply(t, m, signedTx(t, priv, "tx-e1", "deal-5", "account:admin", base,
		protocol.OpDealOpen, protocol.DealOpenPayload{
			DealID:  "deal-5",
			Number:  "DL-2026-000005",
			Title:   "Equipment escrow",
			Parties: []protocol.PartyRef{{PartyID: "party-e", Name: "Everest"}},
		}))
	mustApply(t, m, signedTx(t, priv, "tx-e2", "deal-5", "account:everest", base.Add(time.Second),
		protocol.OpPartyDecision, protocol.PartyDecisionPayload{DealID: "deal-5", PartyID: "party-e", Decision: "DECLINED"}))

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	restored := NewMachine()
	if err := restored.Unmarshal(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	parties, ok := restored.ListParties("deal-5")
	if !ok || len(parties) != 1 || parties[0].Decision != deal.InvitationDeclined {
		t.Fatalf("restored state mismatch: %+v", parties)
	}

	// Declined party stays declined after restore.
	err = restored.ApplyTx(signedTx(t, priv, "tx-e3", "deal-5", "account:everest", base.Add(2*time.Second),
		protocol.OpPartyDecision, protocol.PartyDecisionPayload{DealID: "deal-5", PartyID: "party-e", Decision: "ACCEPTED"}), base.Add(2*time.Second))
	if !errors.Is(err, deal.ErrInvitationDeclined) {
		t.Fatalf("expected ErrInvitationDeclined, got %v", err)
	}
}

func mustKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func mustApply(t *testing.T, m *Machine, tx protocol.Tx) {
	t.Helper()
	if err := m.ApplyTx(tx, tx.Timestamp); err != nil {
		t.Fatalf("apply tx %s: %v", tx.TxID, err)
	}
}

func signedTx(t *testing.T, priv ed25519.PrivateKey, txID, dealID, actor string, at time.Time, op protocol.Operation, payload any) protocol.Tx {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	tx := protocol.Tx{
		TxID:      txID,
		DealID:    dealID,
		Nonce:     txID,
		Timestamp: at,
		Actor:     actor,
		Op:        op,
		Payload:   raw,
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return tx
}
