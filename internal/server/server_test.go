package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rewardjar/internal/config"
	"rewardjar/internal/db"
	"rewardjar/internal/domain"
	"rewardjar/internal/migrate"
	"rewardjar/internal/queue"
	"rewardjar/internal/repo"
	"rewardjar/internal/simulator"
	"rewardjar/internal/wallet"
	"rewardjar/internal/wallet/apple"
	"rewardjar/internal/wallet/google"
	"rewardjar/internal/wallet/pwa"
)

const (
	testSecret    = "test-secret"
	testPassToken = "pwa-test-token"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()

	Queue          queue.Service
	Worker         queue.Worker
	StampCard      string
	MembershipCard string
	StampTemplate  string
	Customer       string
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func serviceAccountJSON(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	data, err := json.Marshal(map[string]string{
		"type":         "service_account",
		"private_key":  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"client_email": "wallet@rewardjar-test.iam.gserviceaccount.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn, Dialect: db.SQLite}
	ts := &testServer{}
	seedCards(t, r, ts)

	q := queue.New(conn, db.SQLite, config.Default().Queue)
	loader := wallet.Loader{Store: r}
	appleRenderer, err := apple.New(apple.Config{})
	if err != nil {
		t.Fatalf("apple renderer: %v", err)
	}
	googleRenderer := google.New(google.Config{IssuerID: "3388000000012345678", ServiceAccount: serviceAccountJSON(t)})
	pwaRenderer := pwa.New(pwa.Config{BaseURL: "https://rewardjar.test"})
	ts.Queue = q
	ts.Worker = queue.Worker{
		ID:        "test-worker",
		Service:   q,
		Loader:    loader,
		Renderers: wallet.NewRegistry(appleRenderer, googleRenderer, pwaRenderer),
	}

	handler, err := New(Config{
		DB:        conn,
		Repo:      r,
		Queue:     q,
		Loader:    loader,
		Apple:     appleRenderer,
		Google:    googleRenderer,
		PWA:       pwaRenderer,
		Simulator: simulator.Simulator{DB: conn, Repo: r, Queue: q},
		Auth:      AuthConfig{JWTSecret: testSecret, TestToken: testPassToken},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts.URL = "http://" + ln.Addr().String()
	ts.client = &http.Client{}
	ts.close = func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	}
	return ts, func() { ts.Close() }
}

func seedCards(t *testing.T, r repo.Repo, ts *testServer) {
	t.Helper()
	ctx := context.Background()
	now := domain.FormatTime(time.Now())
	biz := domain.Business{ID: uuid.NewString(), Name: "Bean There Cafe", BrandColor: "#1d4ed8", CreatedAt: now}
	stampTpl := domain.CardTemplate{
		ID: uuid.NewString(), BusinessID: biz.ID, Kind: domain.CardKindStamp, Name: "Coffee Card",
		RewardDescription: "Free coffee", Stamp: &domain.StampTemplate{TotalStamps: 10}, CreatedAt: now,
	}
	gymTpl := domain.CardTemplate{
		ID: uuid.NewString(), BusinessID: biz.ID, Kind: domain.CardKindMembership, Name: "Gym Pass",
		Membership: &domain.MembershipTemplate{MembershipType: "gym", TotalSessions: 20, CostPerSession: decimal.NewFromInt(15)},
		CreatedAt:  now,
	}
	cust := domain.Customer{ID: uuid.NewString(), Name: "Ada Lovelace", CreatedAt: now}
	stampCard := domain.CustomerCard{
		ID: uuid.NewString(), CustomerID: cust.ID, TemplateID: stampTpl.ID, Kind: domain.CardKindStamp,
		Stamp: &domain.StampFields{StampsUsed: 3}, CreatedAt: now, UpdatedAt: now,
	}
	gymCard := domain.CustomerCard{
		ID: uuid.NewString(), CustomerID: cust.ID, TemplateID: gymTpl.ID, Kind: domain.CardKindMembership,
		Membership: &domain.MembershipFields{SessionsUsed: 20}, CreatedAt: now, UpdatedAt: now,
	}
	steps := []func() error{
		func() error { return r.InsertBusiness(ctx, nil, biz) },
		func() error { return r.InsertTemplate(ctx, nil, stampTpl) },
		func() error { return r.InsertTemplate(ctx, nil, gymTpl) },
		func() error { return r.InsertCustomer(ctx, nil, cust) },
		func() error { return r.InsertCustomerCard(ctx, nil, stampCard) },
		func() error { return r.InsertCustomerCard(ctx, nil, gymCard) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("seed step %d: %v", i, err)
		}
	}
	ts.StampCard = stampCard.ID
	ts.MembershipCard = gymCard.ID
	ts.StampTemplate = stampTpl.ID
	ts.Customer = cust.ID
}

func bearer(t *testing.T, roles ...string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, "tester", roles, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope %s: %v", string(data), err)
	}
	return env.Error.Code
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"status":"ok"`) {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestAppleWithoutSigningConfig(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/wallet/apple/"+srv.StampCard, nil, nil)
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("preview status %d: %s", res.StatusCode, string(data))
	}
	if !strings.HasPrefix(res.Header.Get("Content-Type"), "text/html") || !strings.Contains(string(data), "Wallet not configured") {
		t.Fatalf("preview should answer an HTML error page, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/wallet/apple/membership/"+srv.MembershipCard+"?debug=true", nil, nil)
	if res.StatusCode != http.StatusServiceUnavailable || errorCode(t, data) != "configuration_error" {
		t.Fatalf("debug status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/wallet/apple/membership/not-a-uuid?debug=true", nil, nil)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "validation_error" {
		t.Fatalf("malformed id status %d: %s", res.StatusCode, string(data))
	}
}

func TestPWAWallet(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/wallet/pwa/"+srv.StampCard, nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `id="pass-data"`) {
		t.Fatalf("pwa status %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/wallet/pwa/"+uuid.NewString(), nil, nil)
	if res.StatusCode != http.StatusNotFound || !strings.Contains(string(data), "Card not found") {
		t.Fatalf("unknown card status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/wallet/pwa/"+srv.StampCard, nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("post without token status %d: %s", res.StatusCode, string(data))
	}

	token := map[string]string{"Authorization": "Bearer " + testPassToken}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/wallet/pwa/"+srv.StampCard+"?type=membership", nil, token)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "validation_error" {
		t.Fatalf("type mismatch status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/wallet/pwa/"+srv.MembershipCard+"?type=membership", nil, token)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "gym:"+srv.MembershipCard) {
		t.Fatalf("post with token status %d", res.StatusCode)
	}
}

func TestGoogleWallet(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/wallet/google/"+srv.StampCard, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("google status %d: %s", res.StatusCode, string(data))
	}
	var out GoogleWalletResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(strings.Split(out.JWT, ".")) != 3 || out.SaveURL != google.SaveURLPrefix+out.JWT {
		t.Fatalf("unexpected save link %+v", out)
	}
	if out.Progress.PercentComplete != 30 {
		t.Fatalf("progress = %d", out.Progress.PercentComplete)
	}
}

func TestQueueRequestLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	body := map[string]any{"card_id": srv.StampTemplate, "customer_id": srv.Customer, "platform": "pwa"}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/wallet/requests", body, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous enqueue status %d: %s", res.StatusCode, string(data))
	}
	auth := bearer(t, RoleWallet)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/wallet/requests", map[string]any{"platform": "pwa"}, auth)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("enqueue without card status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/wallet/requests", body, auth)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("enqueue status %d: %s", res.StatusCode, string(data))
	}
	var enq EnqueueResponse
	if err := json.Unmarshal(data, &enq); err != nil {
		t.Fatal(err)
	}
	if enq.Request.Status != domain.StatusPending || enq.Coalesced {
		t.Fatalf("unexpected enqueue response %+v", enq)
	}
	id := enq.Request.ID

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/wallet/requests/"+id+"?wait=1", nil, auth)
	if res.StatusCode != http.StatusAccepted || !strings.Contains(string(data), `"timed_out":true`) {
		t.Fatalf("wait status %d: %s", res.StatusCode, string(data))
	}

	if n, err := srv.Worker.RunOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("worker run: n=%d err=%v", n, err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/wallet/requests/"+id+"?wait=5", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status after processing %d: %s", res.StatusCode, string(data))
	}
	var st RequestStatusResponse
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if st.Request.Status != domain.StatusCompleted || st.ArtifactURL == "" || st.Request.ProcessedAt == "" {
		t.Fatalf("unexpected status %+v", st)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+st.ArtifactURL, nil, auth)
	if res.StatusCode != http.StatusOK || !strings.HasPrefix(res.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("artifact status %d: %s", res.StatusCode, res.Header.Get("Content-Type"))
	}
	if !strings.Contains(res.Header.Get("Content-Disposition"), ".html") || len(data) == 0 {
		t.Fatalf("unexpected artifact headers %v", res.Header)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/api/wallet/requests/"+id, nil, auth)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_transition" {
		t.Fatalf("cancel completed status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/wallet/requests/"+id+"/events", nil, auth)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "wallet.request.completed") {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
}

func TestCancelPendingRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := bearer(t, RoleWallet)
	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/wallet/requests", map[string]any{
		"card_id": srv.StampTemplate, "customer_id": srv.Customer, "platform": "google",
	}, auth)
	var enq EnqueueResponse
	if err := json.Unmarshal(data, &enq); err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/wallet/requests/"+enq.Request.ID, nil, auth)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"status":"cancelled"`) {
		t.Fatalf("cancel status %d: %s", res.StatusCode, string(data))
	}
}

func TestAdminQueueActions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	req, _, err := srv.Queue.Enqueue(ctx, queue.EnqueueOptions{CardID: srv.StampTemplate, CustomerID: srv.Customer, Platform: "apple"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := srv.Worker.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/admin/wallet-chain/queue", nil, bearer(t, RoleWallet))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin status %d: %s", res.StatusCode, string(data))
	}

	admin := bearer(t, RoleAdmin)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/admin/wallet-chain/queue?status=failed", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var list QueueListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != req.ID || list.Stats.Failed != 1 {
		t.Fatalf("unexpected list %+v", list)
	}
	if !strings.Contains(list.Items[0].ErrorMessage, "not configured") {
		t.Fatalf("failed request should carry the configuration error, got %q", list.Items[0].ErrorMessage)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/admin/wallet-chain/queue", map[string]any{
		"action": "retry", "ids": []string{req.ID, "bogus"}, "priority": "high",
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("retry status %d: %s", res.StatusCode, string(data))
	}
	var bulk queue.BulkResult
	if err := json.Unmarshal(data, &bulk); err != nil {
		t.Fatal(err)
	}
	if bulk.Message != "retry: 1 of 2 succeeded" || bulk.Stats.Pending != 1 || bulk.Results[1].OK {
		t.Fatalf("unexpected bulk result %+v", bulk)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/admin/wallet-chain/queue", map[string]any{
		"action": "force", "ids": []string{req.ID},
	}, admin)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("force without reason status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/admin/wallet-chain/health", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	var h queue.Health
	if err := json.Unmarshal(data, &h); err != nil {
		t.Fatal(err)
	}
	if h.QueueLength != 1 || h.Recommendations == nil {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestAdminValidate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := bearer(t, RoleAdmin)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/admin/wallet-chain/validate", map[string]any{
		"customer_card_id": srv.StampCard,
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, string(data))
	}
	var out ValidateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Valid || out.RenderErrors["apple"] == "" || len(out.Reports) != 2 {
		t.Fatalf("expected google and pwa reports with apple unconfigured: %+v", out)
	}
	for _, r := range out.Reports {
		if !r.Valid {
			t.Fatalf("%s report invalid: %v", r.Platform, r.Errors)
		}
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/admin/wallet-chain/validate", map[string]any{}, admin)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty validate status %d: %s", res.StatusCode, string(data))
	}
}

func TestSimulatorAndScan(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := bearer(t, RoleAdmin)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/admin/wallet-chain/test-simulator", map[string]any{
		"action": "simulate_flow", "card_type": "stamp", "total_stamps": 5, "platforms": []string{"pwa"},
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("simulate status %d: %s", res.StatusCode, string(data))
	}
	var flow simulator.Result
	if err := json.Unmarshal(data, &flow); err != nil {
		t.Fatal(err)
	}
	if flow.Card == nil || len(flow.Requests) != 1 {
		t.Fatalf("unexpected flow %+v", flow)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/scan/"+flow.Card.ID, map[string]any{"count": 5}, bearer(t, RoleWallet))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("scan status %d: %s", res.StatusCode, string(data))
	}
	var scan queue.ScanResult
	if err := json.Unmarshal(data, &scan); err != nil {
		t.Fatal(err)
	}
	if !scan.Progress.IsCompleted || scan.Progress.PercentComplete != 100 {
		t.Fatalf("five stamps should complete the card: %+v", scan.Progress)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/admin/wallet-chain/test-simulator", map[string]any{"action": "cleanup"}, admin)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"requests":1`) {
		t.Fatalf("cleanup status %d: %s", res.StatusCode, string(data))
	}
}
