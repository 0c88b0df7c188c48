package ledgerd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"projectledger/core/events"
	"projectledger/core/types"
	"projectledger/observability/audit"
)

type testServer struct {
	node   *Node
	audit  *audit.Store
	broker *events.Broker
	http   *httptest.Server
}

const testAuthSecret = "ledgerd-test-secret-0123456789abcdef"

func newTestServer(t *testing.T, cfg ServerConfig) *testServer {
	t.Helper()
	if cfg.Auth.HMACSecret == "" {
		cfg.Auth.HMACSecret = testAuthSecret
	}
	db, err := audit.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	store, err := audit.New(db, testLogger())
	require.NoError(t, err)
	broker := events.NewBroker(16)

	node := newTestNode(t, testTerminalConfig(), events.Fanout{store, broker})
	require.NoError(t, node.ApplySettings(context.Background()))
	_, err = node.ApplyBootstrap(context.Background(), testBootstrap())
	require.NoError(t, err)

	srv := NewServer(node, store, broker, cfg, testLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{node: node, audit: store, broker: broker, http: ts}
}

// signToken issues a bearer token for subject, signed with secret.
func signToken(t *testing.T, secret string, subject common.Address, expiresIn time.Duration, scopes ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": subject.Hex(),
		"exp": time.Now().Add(expiresIn).Unix(),
	}
	if len(scopes) > 0 {
		claims["scope"] = strings.Join(scopes, " ")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func tokenFor(t *testing.T, subject common.Address, scopes ...string) string {
	return signToken(t, testAuthSecret, subject, time.Hour, scopes...)
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	return s.doAs(t, "", method, path, body)
}

// doAs sends the request with token as its bearer credential. An empty token
// sends the request anonymously.
func (s *testServer) doAs(t *testing.T, token, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.http.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (s *testServer) pay(t *testing.T, amount string) {
	t.Helper()
	status, body := s.doAs(t, tokenFor(t, payerAddr), http.MethodPost, "/projects/2/pay", map[string]any{
		"payer":  payerAddr.Hex(),
		"amount": amount,
		"memo":   "hello",
	})
	require.Equal(t, http.StatusOK, status, body)
}

func TestServerPayAndViews(t *testing.T) {
	s := newTestServer(t, ServerConfig{})

	status, body := s.doAs(t, tokenFor(t, payerAddr), http.MethodPost, "/projects/2/pay", map[string]any{
		"payer":    payerAddr.Hex(),
		"amount":   ether(5).String(),
		"metadata": "0x01",
	})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, ether(5).String(), body["beneficiaryTokenCount"])

	status, body = s.do(t, http.MethodGet, "/projects/2/balance", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, ether(5).String(), body["amount"])

	status, body = s.do(t, http.MethodGet, "/projects/2/holders/"+payerAddr.Hex(), nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, ether(5).String(), body["amount"])

	// 3 of the 5 are reserved for payouts
	status, body = s.do(t, http.MethodGet, "/projects/2/overflow", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, ether(2).String(), body["amount"])

	status, body = s.do(t, http.MethodGet, "/projects/2/total-overflow?currency=1&decimals=18", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, ether(2).String(), body["amount"])

	status, body = s.do(t, http.MethodGet, "/projects/2/reclaimable?tokens="+ether(1).String(), nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "400000000000000000", body["amount"])

	status, body = s.do(t, http.MethodGet, "/projects/2/funding-cycle", nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 1, body["number"])

	status, body = s.do(t, http.MethodGet, "/terminal", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, terminalAddr.Hex(), body["address"])
	require.EqualValues(t, 0, body["fee"])

	status, body = s.do(t, http.MethodGet, "/vault/"+payerAddr.Hex(), nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, ether(5).String(), body["amount"])
}

func TestServerPayoutsAndRedemptions(t *testing.T) {
	s := newTestServer(t, ServerConfig{})
	s.pay(t, ether(5).String())

	status, body := s.doAs(t, tokenFor(t, strangerAddr), http.MethodPost, "/projects/2/distribute", map[string]any{
		"caller": strangerAddr.Hex(),
		"amount": ether(2).String(),
	})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, ether(2).String(), body["netLeftoverDistributionAmount"])

	status, body = s.do(t, http.MethodGet, "/projects/2/distribution-limit/used", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, ether(2).String(), body["amount"])
	require.EqualValues(t, 1, body["number"])

	status, body = s.do(t, http.MethodGet, "/vault/"+projectOwner.Hex(), nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, ether(2).String(), body["amount"])

	status, body = s.doAs(t, tokenFor(t, projectOwner), http.MethodPost, "/projects/2/use-allowance", map[string]any{
		"caller": projectOwner.Hex(),
		"amount": ether(1).String(),
	})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, ether(1).String(), body["netDistributedAmount"])

	status, body = s.do(t, http.MethodGet, "/projects/2/overflow-allowance/used", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, ether(1).String(), body["amount"])

	status, body = s.doAs(t, tokenFor(t, payerAddr), http.MethodPost, "/projects/2/redeem", map[string]any{
		"holder":      payerAddr.Hex(),
		"tokenCount":  ether(1).String(),
		"beneficiary": payerAddr.Hex(),
	})
	require.Equal(t, http.StatusOK, status, body)

	resp, err := s.http.Client().Get(s.http.URL + "/projects/2/held-fees")
	require.NoError(t, err)
	defer resp.Body.Close()
	var held []heldFeeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&held))
	require.Empty(t, held)
}

func TestServerRejectsBadRequests(t *testing.T) {
	s := newTestServer(t, ServerConfig{})

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad project id", http.MethodGet, "/projects/abc/balance", nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown field", http.MethodPost, "/projects/2/pay", map[string]any{"payer": payerAddr.Hex(), "amount": "1", "tip": "1"}, http.StatusBadRequest, "INVALID_PAYLOAD"},
		{"bad amount", http.MethodPost, "/projects/2/pay", map[string]any{"payer": payerAddr.Hex(), "amount": "-1"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad address", http.MethodPost, "/projects/2/pay", map[string]any{"payer": "0x123", "amount": "1"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad metadata", http.MethodPost, "/projects/2/pay", map[string]any{"payer": payerAddr.Hex(), "amount": "1", "metadata": "zz"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"underfunded", http.MethodPost, "/projects/2/pay", map[string]any{"payer": strangerAddr.Hex(), "amount": "1"}, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"},
		{"slippage", http.MethodPost, "/projects/2/pay", map[string]any{"payer": payerAddr.Hex(), "amount": "1", "minReturnedTokens": "2"}, http.StatusUnprocessableEntity, "INADEQUATE_TOKEN_COUNT"},
		{"foreign token", http.MethodPost, "/projects/2/pay", map[string]any{"payer": payerAddr.Hex(), "amount": "1", "token": strangerAddr.Hex()}, http.StatusUnprocessableEntity, "TOKEN_NOT_ACCEPTED"},
		{"allowance without permission", http.MethodPost, "/projects/2/use-allowance", map[string]any{"caller": strangerAddr.Hex(), "amount": "1"}, http.StatusForbidden, "UNAUTHORIZED"},
		{"redeem without tokens", http.MethodPost, "/projects/2/redeem", map[string]any{"caller": strangerAddr.Hex(), "holder": strangerAddr.Hex(), "tokenCount": "1", "beneficiary": strangerAddr.Hex()}, http.StatusUnprocessableEntity, "INSUFFICIENT_TOKENS"},
		{"missing tokens", http.MethodGet, "/projects/2/reclaimable", nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad export format", http.MethodGet, "/audit/export?format=xml", nil, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := s.doAs(t, tokenFor(t, actingAddress(tc.body)), tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, status, body)
			require.Equal(t, tc.code, body["code"])
		})
	}
}

// actingAddress picks the payer or caller named by a request body, falling
// back to the funded payer.
func actingAddress(body any) common.Address {
	fields, _ := body.(map[string]any)
	for _, key := range []string{"payer", "caller"} {
		if raw, ok := fields[key].(string); ok && common.IsHexAddress(raw) {
			return common.HexToAddress(raw)
		}
	}
	return payerAddr
}

func TestServerAuthentication(t *testing.T) {
	s := newTestServer(t, ServerConfig{})
	pay := map[string]any{"amount": "1"}

	status, body := s.do(t, http.MethodPost, "/projects/2/pay", pay)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "UNAUTHENTICATED", body["code"])

	rejected := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": signToken(t, "some-other-secret-0123456789abcdef", payerAddr, time.Hour),
		"expired":      signToken(t, testAuthSecret, payerAddr, -time.Hour),
	}
	for name, token := range rejected {
		status, body := s.doAs(t, token, http.MethodPost, "/projects/2/pay", pay)
		require.Equal(t, http.StatusUnauthorized, status, name)
		require.Equal(t, "UNAUTHENTICATED", body["code"], name)
	}

	// a body cannot act for anyone but the token subject
	status, body = s.doAs(t, tokenFor(t, strangerAddr), http.MethodPost, "/projects/2/pay", map[string]any{
		"payer":  payerAddr.Hex(),
		"amount": "1",
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "FORBIDDEN", body["code"])

	status, body = s.doAs(t, tokenFor(t, strangerAddr), http.MethodPost, "/projects/2/redeem", map[string]any{
		"caller":     payerAddr.Hex(),
		"holder":     payerAddr.Hex(),
		"tokenCount": "1",
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "FORBIDDEN", body["code"])

	status, body = s.doAs(t, tokenFor(t, payerAddr), http.MethodPost, "/projects/2/pay", pay)
	require.Equal(t, http.StatusOK, status, body)
	status, body = s.do(t, http.MethodGet, "/projects/2/holders/"+payerAddr.Hex(), nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "1", body["amount"])

	// deposits need the admin scope
	deposit := map[string]any{"account": strangerAddr.Hex(), "amount": ether(1).String()}
	status, body = s.doAs(t, tokenFor(t, strangerAddr), http.MethodPost, "/vault/deposits", deposit)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "FORBIDDEN", body["code"])
	status, _ = s.do(t, http.MethodPost, "/vault/deposits", deposit)
	require.Equal(t, http.StatusUnauthorized, status)
	status, body = s.do(t, http.MethodGet, "/vault/"+strangerAddr.Hex(), nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "0", body["amount"])

	status, body = s.doAs(t, tokenFor(t, ownerAddr, DefaultAdminScope), http.MethodPost, "/vault/deposits", deposit)
	require.Equal(t, http.StatusCreated, status, body)
}

func TestServerRateLimit(t *testing.T) {
	s := newTestServer(t, ServerConfig{RequestsPerSecond: 0.001, Burst: 1})

	status, _ := s.do(t, http.MethodGet, "/terminal", nil)
	require.Equal(t, http.StatusOK, status)
	status, body := s.do(t, http.MethodGet, "/terminal", nil)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "RATE_LIMITED", body["code"])

	// health checks are never throttled
	status, _ = s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status)
}

func TestServerAuditEndpoints(t *testing.T) {
	s := newTestServer(t, ServerConfig{})
	s.pay(t, ether(1).String())

	resp, err := s.http.Client().Get(s.http.URL + "/audit?limit=1")
	require.NoError(t, err)
	var records []auditRecordResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	resp.Body.Close()
	require.Len(t, records, 1)
	require.Equal(t, events.TypePay, records[0].EventType)
	require.EqualValues(t, 2, records[0].ProjectID)

	status, body := s.do(t, http.MethodGet, "/audit/verify", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["valid"])

	for _, format := range []string{"csv", "jsonl", "parquet"} {
		resp, err := s.http.Client().Get(s.http.URL + "/audit/export?format=" + format)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, format)
		require.Len(t, resp.Header.Get("X-Checksum-Sha256"), 64, format)
	}
}

func TestServerWithoutAudit(t *testing.T) {
	node := newTestNode(t, testTerminalConfig(), nil)
	ts := httptest.NewServer(NewServer(node, nil, nil, ServerConfig{}, testLogger()).Handler())
	defer ts.Close()

	for _, path := range []string{"/audit", "/audit/verify", "/events/ws"} {
		resp, err := ts.Client().Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}

	// no signing secret disables every mutating route
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/projects/2/pay", strings.NewReader(`{"amount":"1"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, payerAddr))
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServerEventStream(t *testing.T) {
	s := newTestServer(t, ServerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/events/ws?type=terminal.pay"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	require.Eventually(t, func() bool { return s.broker.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	status, body := s.doAs(t, tokenFor(t, ownerAddr, DefaultAdminScope), http.MethodPost, "/vault/deposits", map[string]any{
		"account": payerAddr.Hex(),
		"amount":  ether(1).String(),
	})
	require.Equal(t, http.StatusCreated, status, body)
	s.pay(t, ether(1).String())

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, events.TypePay, evt.Type)
	require.Equal(t, "2", evt.Attributes["projectId"])
}
