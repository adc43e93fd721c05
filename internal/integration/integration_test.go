//go:build integration
// +build integration

package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	httpapi "github.com/escrow-hub/escrow-hub/internal/api/http"
	"github.com/escrow-hub/escrow-hub/internal/application/account"
	"github.com/escrow-hub/escrow-hub/internal/application/activation"
	"github.com/escrow-hub/escrow-hub/internal/application/audit"
	"github.com/escrow-hub/escrow-hub/internal/application/auth"
	appDeal "github.com/escrow-hub/escrow-hub/internal/application/deal"
	"github.com/escrow-hub/escrow-hub/internal/application/invitation"
	"github.com/escrow-hub/escrow-hub/internal/application/negotiation"
	"github.com/escrow-hub/escrow-hub/internal/application/notification"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/postgres"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/sse"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const auditKeyHex = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
const testUsername = "alice"
const testPassword = "S3cure!Passw0rd"

func TestDealActivationLifecycleIntegration(t *testing.T) {
	server, cleanup := newTestServer(t)
	defer cleanup()

	client := newAuthedClient(t, server.URL)
	accountID := currentAccountID(t, client, server.URL)

	var d dealResponse
	postJSON(t, client, server.URL+"/v1/deals", map[string]interface{}{
		"title":       "warehouse escrow",
		"description": "integration flow",
	}, &d)
	if d.Status != "CREATED" {
		t.Fatalf("expected CREATED, got %s", d.Status)
	}

	var buyer, seller partyResponse
	postJSON(t, client, server.URL+"/v1/deals/"+d.DealID+"/parties", map[string]interface{}{
		"name": "Acme Corp", "role": "BUYER",
	}, &buyer)
	postJSON(t, client, server.URL+"/v1/deals/"+d.DealID+"/parties", map[string]interface{}{
		"name": "Blue Logistics", "role": "SELLER",
	}, &seller)

	// The admin account represents both parties in this test.
	postJSON(t, client, server.URL+"/v1/parties/"+buyer.PartyID+"/members", map[string]interface{}{
		"account_id": accountID,
	}, nil)
	postJSON(t, client, server.URL+"/v1/parties/"+seller.PartyID+"/members", map[string]interface{}{
		"account_id": accountID,
	}, nil)

	var sent sendInvitationsResponse
	postJSON(t, client, server.URL+"/v1/deals/"+d.DealID+"/invitations/send", map[string]interface{}{}, &sent)
	if len(sent.Parties) != 2 {
		t.Fatalf("expected 2 invited parties, got %d", len(sent.Parties))
	}
	for _, p := range sent.Parties {
		if p.InvitationToken == "" {
			t.Fatalf("missing invitation token for party %s", p.Party.PartyID)
		}
		postJSON(t, client, server.URL+"/v1/invitations/"+p.InvitationToken+"/respond", map[string]interface{}{
			"decision": "ACCEPTED",
		}, nil)
	}

	var contract contractResponse
	postJSON(t, client, server.URL+"/v1/deals/"+d.DealID+"/contracts", map[string]interface{}{
		"terms": map[string]interface{}{"payment": "net-30"},
		"milestones": []map[string]interface{}{
			{"order": 1, "title": "Delivery", "amount": 150000, "currency": "USD"},
		},
	}, &contract)
	if len(contract.Milestones) != 1 {
		t.Fatalf("expected 1 milestone, got %d", len(contract.Milestones))
	}
	milestoneID := contract.Milestones[0].MilestoneID

	postJSON(t, client, server.URL+"/v1/deals/"+d.DealID+"/contracts/"+contract.Contract.ContractID+"/effective", map[string]interface{}{}, nil)

	for _, partyID := range []string{buyer.PartyID, seller.PartyID} {
		postJSON(t, client, server.URL+"/v1/milestones/"+milestoneID+"/responses", map[string]interface{}{
			"party_id": partyID,
			"type":     "ACCEPTED",
		}, nil)
	}

	// Unanimous milestone consensus activates the deal.
	waitForStatus(t, client, server.URL, d.DealID, "ACCEPTED")

	for _, step := range []struct{ op, want string }{
		{"fund", "FUNDED"},
		{"start", "IN_PROGRESS"},
		{"ready", "READY_TO_RELEASE"},
		{"release", "RELEASED"},
		{"complete", "COMPLETED"},
	} {
		var out dealResponse
		postJSON(t, client, server.URL+"/v1/deals/"+d.DealID+"/"+step.op, map[string]interface{}{}, &out)
		if out.Status != step.want {
			t.Fatalf("%s: expected %s, got %s", step.op, step.want, out.Status)
		}
	}

	resp, err := client.Get(server.URL + "/v1/deals?status=COMPLETED&createdBy=" + accountID)
	if err != nil {
		t.Fatalf("list deals: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list deals: status %d", resp.StatusCode)
	}
	var listed struct {
		Deals []dealResponse `json:"deals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode deal list: %v", err)
	}
	if len(listed.Deals) != 1 || listed.Deals[0].DealID != d.DealID {
		t.Fatalf("expected the completed deal in the filtered list, got %d deals", len(listed.Deals))
	}
}

func TestSSEDeliveryIntegration(t *testing.T) {
	server, cleanup := newTestServer(t)
	defer cleanup()

	client := newAuthedClient(t, server.URL)

	var d dealResponse
	postJSON(t, client, server.URL+"/v1/deals", map[string]interface{}{
		"title": "sse deal",
	}, &d)
	postJSON(t, client, server.URL+"/v1/deals/"+d.DealID+"/parties", map[string]interface{}{
		"name": "Acme Corp", "role": "BUYER",
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		server.URL+"/v1/notifications/sse?client_id=test-client&groups=deal:"+d.DealID, nil)
	if err != nil {
		t.Fatalf("sse request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("sse connect: %v", err)
	}
	defer resp.Body.Close()

	msgCh := make(chan map[string]interface{}, 1)
	go func() {
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				payload := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
				var msg map[string]interface{}
				if err := json.Unmarshal([]byte(payload), &msg); err == nil {
					msgCh <- msg
					return
				}
			}
		}
	}()

	postJSON(t, client, server.URL+"/v1/deals/"+d.DealID+"/invitations/send", map[string]interface{}{}, nil)

	select {
	case msg := <-msgCh:
		if msg["event"] != "PARTY_INVITED" {
			t.Fatalf("unexpected event: %v", msg["event"])
		}
		if msg["id"] == "" {
			t.Fatalf("missing notification id in SSE payload")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("SSE message not received")
	}
}

type dealResponse struct {
	DealID string `json:"dealId"`
	Number string `json:"number"`
	Status string `json:"status"`
}

type partyResponse struct {
	PartyID          string `json:"partyId"`
	InvitationStatus string `json:"invitationStatus"`
}

type sendInvitationsResponse struct {
	Parties []struct {
		Party           partyResponse `json:"party"`
		InvitationToken string        `json:"invitation_token"`
	} `json:"parties"`
}

type contractResponse struct {
	Contract struct {
		ContractID string `json:"contractId"`
	} `json:"contract"`
	Milestones []struct {
		MilestoneID string `json:"milestoneId"`
	} `json:"milestones"`
}

func waitForStatus(t *testing.T, client *http.Client, baseURL, dealID, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last string
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/v1/deals/" + dealID)
		if err != nil {
			t.Fatalf("get deal: %v", err)
		}
		var d dealResponse
		err = json.NewDecoder(resp.Body).Decode(&d)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode deal: %v", err)
		}
		last = d.Status
		if last == want {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("deal never reached %s, last status %s", want, last)
}

func currentAccountID(t *testing.T, client *http.Client, baseURL string) string {
	t.Helper()
	resp, err := client.Get(baseURL + "/v1/auth/me")
	if err != nil {
		t.Fatalf("auth me: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		AccountID string `json:"accountId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if out.AccountID == "" {
		t.Fatalf("missing accountId")
	}
	return out.AccountID
}

func postJSON(t *testing.T, client *http.Client, url string, body interface{}, out interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("post %s status %d: %s", url, resp.StatusCode, string(bodyBytes))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func newAuthedClient(t *testing.T, baseURL string) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Timeout: 10 * time.Second, Jar: jar}
	bootstrapAccount(t, client, baseURL)
	loginAccount(t, client, baseURL)
	return client
}

func bootstrapAccount(t *testing.T, client *http.Client, baseURL string) {
	t.Helper()
	payload := map[string]string{"username": testUsername, "password": testPassword}
	data, _ := json.Marshal(payload)
	resp, err := client.Post(baseURL+"/v1/auth/bootstrap", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusBadRequest {
		return
	}
	body, _ := io.ReadAll(resp.Body)
	t.Fatalf("bootstrap status %d: %s", resp.StatusCode, string(body))
}

func loginAccount(t *testing.T, client *http.Client, baseURL string) {
	t.Helper()
	var out map[string]interface{}
	postJSON(t, client, baseURL+"/v1/auth/login", map[string]string{
		"username": testUsername,
		"password": testPassword,
	}, &out)
}

func newTestServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	dsn := testDatabaseURL(t)

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("db pool: %v", err)
	}

	root := repoRoot(t)
	if err := postgres.RunMigrations(ctx, pool, filepath.Join(root, "internal", "migrations")); err != nil {
		pool.Close()
		t.Fatalf("migrations: %v", err)
	}
	if err := resetDatabase(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("reset db: %v", err)
	}

	logger := zerolog.Nop()
	dealRepo := postgres.NewDealRepository(pool)
	partyRepo := postgres.NewPartyRepository(pool)
	contractRepo := postgres.NewContractRepository(pool)
	milestoneRepo := postgres.NewMilestoneRepository(pool)
	notificationRepo := postgres.NewNotificationRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	ruleRepo := postgres.NewRuleRepository(pool)
	accountRepo := postgres.NewAccountRepository(pool)
	sessionRepo := postgres.NewSessionRepository(pool)

	sseHub := sse.NewHub()

	auditSvc := audit.NewService(auditRepo, logger, mustDecodeHex(t, auditKeyHex))
	notificationSvc := notification.NewService(notificationRepo, ruleRepo, dealRepo, sseHub, time.Hour, logger)
	activationSvc := activation.NewService(dealRepo, partyRepo, contractRepo, milestoneRepo, auditSvc, notificationSvc, logger)
	invitationSvc := invitation.NewService(dealRepo, partyRepo, activationSvc, auditSvc, notificationSvc, logger)
	negotiationSvc := negotiation.NewService(milestoneRepo, partyRepo, dealRepo, contractRepo, activationSvc, auditSvc, notificationSvc, logger)
	dealSvc := appDeal.NewService(dealRepo, partyRepo, contractRepo, milestoneRepo, activationSvc, auditSvc, notificationSvc, logger)
	accountSvc := account.NewService(accountRepo, logger)
	authSvc := auth.NewService(accountRepo, sessionRepo, 24*time.Hour, logger)

	apiServer := httpapi.NewServer(dealSvc, invitationSvc, negotiationSvc, notificationSvc, auditSvc, authSvc, accountSvc, sseHub, "escrow_hub_session", false)
	server := httptest.NewServer(apiServer.Router())

	// Fast dispatch pump so SSE assertions do not wait on a long ticker.
	pumpDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-pumpDone:
				return
			case <-ticker.C:
				_, _ = notificationSvc.ProcessPending(context.Background(), 50)
				_, _ = notificationSvc.ProcessRetryable(context.Background(), 50)
			}
		}
	}()

	cleanup := func() {
		close(pumpDone)
		server.Close()
		sseHub.Stop()
		pool.Close()
	}

	return server, cleanup
}

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	t.Skip("TEST_DATABASE_URL not set; skipping integration tests")
	return ""
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func resetDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE TABLE
			milestone_responses,
			milestones,
			contracts,
			party_members,
			parties,
			deals,
			notifications,
			routing_rules,
			audit_logs,
			sessions,
			accounts
		RESTART IDENTITY CASCADE
	`)
	return err
}

func mustDecodeHex(t *testing.T, value string) []byte {
	t.Helper()
	b, err := hex.DecodeString(value)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	return b
}
