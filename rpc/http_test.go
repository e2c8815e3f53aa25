package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"p2pmarket/core/state"
	"p2pmarket/crypto"
	"p2pmarket/native/bank"
	"p2pmarket/native/market"
	"p2pmarket/storage"
)

const testSecret = "rpc-test-secret-0123456789"

func testAccount(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

var (
	testSeller  = testAccount(0x01)
	testBuyer   = testAccount(0x02)
	testAuditor = testAccount(0x09)
	testAdmin   = testAccount(0x0A)
	testVault   = testAccount(0xEE)
)

type testServer struct {
	server  *Server
	handler http.Handler
	bank    *bank.Bank
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	db := storage.NewMemDB()
	custody := bank.New(state.NewManager(storage.NewTable(db, "bank/")), bank.Config{Exempt: [][20]byte{testVault}})
	roles := market.RoleSet{}
	roles.Grant(testAdmin, market.Roles{LockAdmin: true, PairAdmin: true, CommissionAdmin: true, Pauser: true})
	engine, err := market.NewEngine(state.NewManager(storage.NewTable(db, "market/")), market.Config{
		Vault:      testVault,
		Custody:    custody,
		Authorizer: roles,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := custody.Deposit(testSeller, "X", big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := custody.Deposit(testBuyer, "Y", big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	cfg := Config{
		Engine:             engine,
		Bank:               custody,
		Auth:               AuthConfig{HMACSecret: testSecret},
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testServer{server: server, handler: server.Handler(), bank: custody}
}

func tokenFor(t *testing.T, account [20]byte) string {
	t.Helper()
	token, err := IssueToken(AuthConfig{HMACSecret: testSecret}, account, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

type testResponse struct {
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (ts *testServer) call(t *testing.T, token, method string, params interface{}) (int, testResponse) {
	t.Helper()
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.RemoteAddr = "192.0.2.10:4000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	var resp testResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, resp
}

func decodeResult(t *testing.T, resp testResponse, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func createTestOffer(t *testing.T, ts *testServer) offerJSON {
	t.Helper()
	status, resp := ts.call(t, tokenFor(t, testSeller), "market_createOffer", map[string]interface{}{
		"sellAsset":     "x",
		"buyAsset":      "y",
		"sellAmount":    "100",
		"buyAmount":     "120",
		"isPartial":     true,
		"auditor":       crypto.FormatAccount(testAuditor),
		"minDealAmount": "10",
		"maxDealAmount": "70",
	})
	if status != http.StatusOK {
		t.Fatalf("create offer status %d: %+v", status, resp.Error)
	}
	var offer offerJSON
	decodeResult(t, resp, &offer)
	return offer
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if id := rec.Header().Get(requestIDHeader); id == "" {
		t.Fatalf("expected request id header")
	}
}

func TestOfferLifecycleOverRPC(t *testing.T) {
	ts := newTestServer(t, nil)
	offer := createTestOffer(t, ts)
	if offer.SellAsset != "X" || offer.BuyAsset != "Y" || !offer.IsOpen {
		t.Fatalf("unexpected offer: %+v", offer)
	}
	if offer.Price != "1200000000000000000" {
		t.Fatalf("unexpected price %s", offer.Price)
	}

	status, resp := ts.call(t, tokenFor(t, testBuyer), "market_fillOffer", map[string]string{
		"offerId": offer.ID,
		"amount":  "50",
	})
	if status != http.StatusOK {
		t.Fatalf("fill status %d: %+v", status, resp.Error)
	}
	var deal dealJSON
	decodeResult(t, resp, &deal)
	if deal.SellAmount != "50" || deal.BuyAmount != "60" || deal.Status != "pending" {
		t.Fatalf("unexpected deal: %+v", deal)
	}

	for _, party := range [][20]byte{testSeller, testBuyer} {
		status, resp = ts.call(t, tokenFor(t, party), "market_vote", map[string]string{
			"dealId": deal.ID,
			"vote":   "approve",
		})
		if status != http.StatusOK {
			t.Fatalf("vote status %d: %+v", status, resp.Error)
		}
	}
	var outcome outcomeJSON
	decodeResult(t, resp, &outcome)
	if !outcome.Resolved || outcome.Deal.Status != "success" {
		t.Fatalf("expected resolved success, got %+v", outcome)
	}

	status, resp = ts.call(t, "", "bank_balance", map[string]string{
		"account": crypto.FormatAccount(testBuyer),
		"asset":   "X",
	})
	if status != http.StatusOK {
		t.Fatalf("balance status %d", status)
	}
	var balance map[string]string
	decodeResult(t, resp, &balance)
	if balance["balance"] != "50" {
		t.Fatalf("expected buyer to hold 50 X, got %s", balance["balance"])
	}

	_, resp = ts.call(t, "", "market_getReputation", map[string]string{
		"account": crypto.FormatAccount(testSeller),
		"asset":   "x",
	})
	var rep reputationJSON
	decodeResult(t, resp, &rep)
	if rep.GoodVolume != "50" || rep.TotalDeals != 1 {
		t.Fatalf("unexpected reputation: %+v", rep)
	}

	_, resp = ts.call(t, "", "market_dealsByUser", map[string]string{"account": crypto.FormatAccount(testBuyer)})
	var ids []string
	decodeResult(t, resp, &ids)
	if len(ids) != 1 || ids[0] != deal.ID {
		t.Fatalf("unexpected deal ids: %v", ids)
	}
}

func TestWriteMethodsRequireToken(t *testing.T) {
	ts := newTestServer(t, nil)
	status, resp := ts.call(t, "", "market_createOffer", map[string]string{"sellAsset": "x"})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}

	foreign, err := IssueToken(AuthConfig{HMACSecret: "another-secret-0123456789"}, testSeller, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	status, _ = ts.call(t, foreign, "market_createOffer", map[string]string{"sellAsset": "x"})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d", status)
	}
}

func TestDomainErrorsMapToCodes(t *testing.T) {
	ts := newTestServer(t, nil)
	offer := createTestOffer(t, ts)
	buyer := tokenFor(t, testBuyer)

	cases := []struct {
		name   string
		token  string
		method string
		params interface{}
		status int
		code   int
	}{
		{"unknown offer", buyer, "market_fillOffer", map[string]string{"offerId": "0x" + strings.Repeat("ab", 32), "amount": "10"}, http.StatusNotFound, codeNotFound},
		{"above max", buyer, "market_fillOffer", map[string]string{"offerId": offer.ID, "amount": "80"}, http.StatusConflict, codeAboveMaxDeal},
		{"owner fill", tokenFor(t, testSeller), "market_fillOffer", map[string]string{"offerId": offer.ID, "amount": "20"}, http.StatusForbidden, codeForbidden},
		{"bad id", buyer, "market_fillOffer", map[string]string{"offerId": "0x12", "amount": "20"}, http.StatusBadRequest, codeInvalidParams},
		{"bad amount", buyer, "market_fillOffer", map[string]string{"offerId": offer.ID, "amount": "ten"}, http.StatusBadRequest, codeInvalidParams},
		{"bad vote", buyer, "market_vote", map[string]string{"dealId": offer.ID, "vote": "maybe"}, http.StatusBadRequest, codeInvalidVote},
		{"not admin", buyer, "market_setPaused", map[string]bool{"paused": true}, http.StatusForbidden, codeForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := ts.call(t, tc.token, tc.method, tc.params)
			if status != tc.status {
				t.Fatalf("expected status %d, got %d (%+v)", tc.status, status, resp.Error)
			}
			if resp.Error == nil || resp.Error.Code != tc.code {
				t.Fatalf("expected code %d, got %+v", tc.code, resp.Error)
			}
		})
	}
}

func TestAdminMethods(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := tokenFor(t, testAdmin)

	status, resp := ts.call(t, admin, "market_setCommission", map[string]string{"rate": "5000000000000000000"})
	if status != http.StatusOK {
		t.Fatalf("set commission status %d: %+v", status, resp.Error)
	}
	status, _ = ts.call(t, admin, "market_setPaused", map[string]bool{"paused": true})
	if status != http.StatusOK {
		t.Fatalf("set paused status %d", status)
	}
	_, resp = ts.call(t, "", "market_commission", nil)
	var summary map[string]interface{}
	decodeResult(t, resp, &summary)
	if summary["rate"] != "5000000000000000000" || summary["paused"] != true {
		t.Fatalf("unexpected commission summary: %v", summary)
	}

	status, resp = ts.call(t, admin, "market_setLock", map[string]interface{}{
		"subject": crypto.FormatAccount(testSeller),
		"asset":   "x",
		"locked":  true,
	})
	if status != http.StatusOK {
		t.Fatalf("set lock status %d: %+v", status, resp.Error)
	}
	var lock lockJSON
	decodeResult(t, resp, &lock)
	if !lock.Admin || !lock.Locked || lock.Asset != "X" {
		t.Fatalf("unexpected lock: %+v", lock)
	}

	status, resp = ts.call(t, admin, "market_setOfferer", map[string]interface{}{
		"offerer": crypto.FormatAccount(testSeller),
		"token":   "punk#7",
		"allowed": true,
	})
	if status != http.StatusOK {
		t.Fatalf("set offerer status %d: %+v", status, resp.Error)
	}
	_, resp = ts.call(t, "", "market_allowedTokens", map[string]string{"account": crypto.FormatAccount(testSeller)})
	var allowed struct {
		Tokens []string `json:"tokens"`
	}
	decodeResult(t, resp, &allowed)
	if len(allowed.Tokens) != 1 || allowed.Tokens[0] != "PUNK" {
		t.Fatalf("unexpected allowed tokens: %v", allowed.Tokens)
	}
}

func TestUnknownMethodAndMalformedBody(t *testing.T) {
	ts := newTestServer(t, nil)
	status, resp := ts.call(t, "", "market_nope", nil)
	if status != http.StatusNotFound || resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %d %+v", status, resp.Error)
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "invalid JSON payload") {
		t.Fatalf("expected parse error, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimitedRequests(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.RateLimitPerSecond = 0.001
		cfg.RateLimitBurst = 1
	})
	if status, _ := ts.call(t, "", "market_commission", nil); status != http.StatusOK {
		t.Fatalf("first request should pass, got %d", status)
	}
	status, resp := ts.call(t, "", "market_commission", nil)
	if status != http.StatusTooManyRequests || resp.Error == nil || resp.Error.Code != codeRateLimited {
		t.Fatalf("expected rate limit, got %d %+v", status, resp.Error)
	}
}

func TestDepositRequiresFaucetAndPauser(t *testing.T) {
	ts := newTestServer(t, nil)
	params := map[string]string{"account": crypto.FormatAccount(testBuyer), "asset": "Z", "amount": "5"}
	if status, _ := ts.call(t, tokenFor(t, testAdmin), "bank_deposit", params); status != http.StatusNotFound {
		t.Fatalf("expected deposit disabled, got %d", status)
	}

	ts = newTestServer(t, func(cfg *Config) { cfg.EnableFaucet = true })
	if status, _ := ts.call(t, tokenFor(t, testBuyer), "bank_deposit", params); status != http.StatusForbidden {
		t.Fatalf("expected forbidden for non-pauser, got %d", status)
	}
	status, resp := ts.call(t, tokenFor(t, testAdmin), "bank_deposit", params)
	if status != http.StatusOK {
		t.Fatalf("deposit status %d: %+v", status, resp.Error)
	}
	balance, err := ts.bank.Balance(testBuyer, "Z")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 5 {
		t.Fatalf("expected 5 Z, got %s", balance)
	}
}
