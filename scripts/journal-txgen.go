package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/escrow-hub/escrow-hub/internal/infrastructure/keystore"
	"github.com/escrow-hub/escrow-hub/internal/journal/protocol"
)

type options struct {
	op         string
	dealID     string
	actor      string
	txID       string
	nonce      string
	timestamp  string
	privateKey string
	keyID      string

	dealNumber string
	dealTitle  string
	partiesCSV string

	partyID  string
	decision string

	milestoneID string
	response    string
	proposal    string
	comment     string

	fromStatus string
	toStatus   string
	reason     string
}

func main() {
	var opt options

	flag.StringVar(&opt.op, "op", "", "operation: deal-open|party-decision|milestone-decision|status-change")
	flag.StringVar(&opt.dealID, "deal-id", "smoke-deal", "deal identifier")
	flag.StringVar(&opt.actor, "actor", "account:smoke", "actor string")
	flag.StringVar(&opt.txID, "tx-id", "", "tx identifier; auto-generated when empty")
	flag.StringVar(&opt.nonce, "nonce", "", "nonce; auto-generated when empty")
	flag.StringVar(&opt.timestamp, "timestamp", "", "RFC3339 timestamp; default now UTC")
	flag.StringVar(&opt.privateKey, "private-key", "", "base64 private key (32-byte seed or 64-byte private key); default from keystore or random")
	flag.StringVar(&opt.keyID, "key-id", "", "keystore key id from SIGNING_KEYS when private-key is empty")

	flag.StringVar(&opt.dealNumber, "deal-number", "", "deal number for deal-open")
	flag.StringVar(&opt.dealTitle, "deal-title", "Smoke Deal", "deal title for deal-open")
	flag.StringVar(&opt.partiesCSV, "parties", "", "parties for deal-open as partyId=Name[:role] pairs, comma-separated")

	flag.StringVar(&opt.partyID, "party-id", "", "party identifier")
	flag.StringVar(&opt.decision, "decision", "ACCEPTED", "invitation decision: ACCEPTED|DECLINED")

	flag.StringVar(&opt.milestoneID, "milestone-id", "", "milestone identifier")
	flag.StringVar(&opt.response, "response", "ACCEPTED", "milestone response: ACCEPTED|REJECTED|AMENDMENT_PROPOSED")
	flag.StringVar(&opt.proposal, "proposal-json", "", "amendment proposal JSON")
	flag.StringVar(&opt.comment, "comment", "", "milestone response comment")

	flag.StringVar(&opt.fromStatus, "from", "", "current deal status for status-change")
	flag.StringVar(&opt.toStatus, "to", "", "target deal status for status-change")
	flag.StringVar(&opt.reason, "reason", "", "reason for status-change")
	flag.Parse()

	op, err := parseOperation(opt.op)
	if err != nil {
		log.Fatal(err)
	}
	opt.actor = strings.TrimSpace(opt.actor)
	if opt.actor == "" {
		log.Fatal("actor is required")
	}

	payload, err := buildPayload(op, opt)
	if err != nil {
		log.Fatal(err)
	}

	privateKey, err := loadPrivateKey(opt)
	if err != nil {
		log.Fatal(err)
	}
	ts, err := parseTimestamp(opt.timestamp)
	if err != nil {
		log.Fatal(err)
	}

	txID := strings.TrimSpace(opt.txID)
	if txID == "" {
		txID = autoID("tx", ts)
	}
	nonce := strings.TrimSpace(opt.nonce)
	if nonce == "" {
		nonce = autoID("n", ts)
	}
	tx := protocol.Tx{
		TxID:      txID,
		DealID:    strings.TrimSpace(opt.dealID),
		Nonce:     nonce,
		Timestamp: ts,
		Actor:     opt.actor,
		Op:        op,
		Payload:   payload,
	}
	if err := tx.Sign(privateKey); err != nil {
		log.Fatal(err)
	}

	out, err := json.Marshal(tx)
	if err != nil {
		log.Fatal(err)
	}
	_, _ = os.Stdout.Write(out)
}

func parseOperation(raw string) (protocol.Operation, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "deal-open", "deal_open":
		return protocol.OpDealOpen, nil
	case "party-decision", "party_decision":
		return protocol.OpPartyDecision, nil
	case "milestone-decision", "milestone_decision":
		return protocol.OpMilestoneDecision, nil
	case "status-change", "status_change":
		return protocol.OpStatusChange, nil
	default:
		return "", fmt.Errorf("unsupported op: %q", raw)
	}
}

func buildPayload(op protocol.Operation, opt options) (json.RawMessage, error) {
	dealID := strings.TrimSpace(opt.dealID)
	if dealID == "" {
		return nil, errors.New("deal-id is required")
	}

	switch op {
	case protocol.OpDealOpen:
		parties, err := parseParties(opt.partiesCSV)
		if err != nil {
			return nil, err
		}
		number := strings.TrimSpace(opt.dealNumber)
		if number == "" {
			number = autoID("DL", time.Now().UTC())
		}
		return json.Marshal(protocol.DealOpenPayload{
			DealID:  dealID,
			Number:  number,
			Title:   strings.TrimSpace(opt.dealTitle),
			Parties: parties,
		})

	case protocol.OpPartyDecision:
		partyID := strings.TrimSpace(opt.partyID)
		if partyID == "" {
			return nil, errors.New("party-id is required for party-decision")
		}
		return json.Marshal(protocol.PartyDecisionPayload{
			DealID:   dealID,
			PartyID:  partyID,
			Decision: strings.ToUpper(strings.TrimSpace(opt.decision)),
		})

	case protocol.OpMilestoneDecision:
		milestoneID := strings.TrimSpace(opt.milestoneID)
		if milestoneID == "" {
			return nil, errors.New("milestone-id is required for milestone-decision")
		}
		partyID := strings.TrimSpace(opt.partyID)
		if partyID == "" {
			return nil, errors.New("party-id is required for milestone-decision")
		}
		proposal, err := parseOptionalJSON(opt.proposal, "proposal-json")
		if err != nil {
			return nil, err
		}
		var comment *string
		if trimmed := strings.TrimSpace(opt.comment); trimmed != "" {
			comment = &trimmed
		}
		return json.Marshal(protocol.MilestoneDecisionPayload{
			DealID:      dealID,
			MilestoneID: milestoneID,
			PartyID:     partyID,
			Response:    strings.ToUpper(strings.TrimSpace(opt.response)),
			Proposal:    proposal,
			Comment:     comment,
		})

	case protocol.OpStatusChange:
		from := strings.ToUpper(strings.TrimSpace(opt.fromStatus))
		to := strings.ToUpper(strings.TrimSpace(opt.toStatus))
		if from == "" || to == "" {
			return nil, errors.New("from and to are required for status-change")
		}
		return json.Marshal(protocol.StatusChangePayload{
			DealID: dealID,
			From:   from,
			To:     to,
			Reason: strings.TrimSpace(opt.reason),
		})
	}
	return nil, fmt.Errorf("unsupported op: %s", op)
}

// parseParties parses "partyId=Name[:role]" pairs.
func parseParties(raw string) ([]protocol.PartyRef, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	var out []protocol.PartyRef
	for _, item := range strings.Split(trimmed, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid party spec: %q", item)
		}
		ref := protocol.PartyRef{PartyID: strings.TrimSpace(parts[0])}
		nameRole := strings.SplitN(parts[1], ":", 2)
		ref.Name = strings.TrimSpace(nameRole[0])
		if len(nameRole) == 2 {
			ref.Role = strings.ToUpper(strings.TrimSpace(nameRole[1]))
		}
		out = append(out, ref)
	}
	return out, nil
}

func parseOptionalJSON(raw, fieldName string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("invalid %s", fieldName)
	}
	return json.RawMessage(trimmed), nil
}

func parseTimestamp(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Now().UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	return parsed.UTC(), nil
}

func loadPrivateKey(opt options) (ed25519.PrivateKey, error) {
	trimmed := strings.TrimSpace(opt.privateKey)
	if trimmed != "" {
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid private-key base64: %w", err)
		}
		switch len(decoded) {
		case ed25519.PrivateKeySize:
			return ed25519.PrivateKey(decoded), nil
		case ed25519.SeedSize:
			return ed25519.NewKeyFromSeed(decoded), nil
		default:
			return nil, fmt.Errorf("invalid private-key length: %d (expected 32 or 64 bytes)", len(decoded))
		}
	}

	ks, err := keystore.NewFromEnv()
	if err != nil {
		return nil, err
	}
	if keyID := strings.TrimSpace(opt.keyID); keyID != "" {
		return ks.Key(keyID)
	}
	if _, key, err := ks.KeyForActor(opt.actor); err == nil {
		return key, nil
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	return key, err
}

func autoID(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, ts.UnixNano())
}
