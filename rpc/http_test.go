package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"tokensale/native/sale"
	"tokensale/storage"
)

const (
	testSecret = "test-secret"
	buyerAddr  = "0x0000000000000000000000000000000000000001"
	assetAddr  = "0x00000000000000000000000000000000000000aa"
)

type rpcEnv struct {
	server  *httptest.Server
	custody *sale.BookCustody
	now     *int64
}

func newRPCEnv(t *testing.T) *rpcEnv {
	t.Helper()
	state := sale.NewState(storage.NewMemDB())
	var vault [20]byte
	copy(vault[:], "test-vault")
	custody := sale.NewBookCustody(state, vault)
	oracle := sale.NewFixedRateOracle()
	oracle.SetRate("USDT", "SALE", big.NewRat(10, 1))

	engine, adminCap := sale.NewEngine("SALE")
	engine.SetState(state)
	engine.SetCustody(custody)
	engine.SetOracle(oracle)

	now := int64(10_000)
	env := &rpcEnv{now: &now}
	engine.SetNowFunc(func() int64 { return *env.now })

	server := NewServer(ServerConfig{
		Engine:         engine,
		AdminCap:       adminCap,
		AdminJWTSecret: testSecret,
		Custody:        custody,
	})
	env.server = httptest.NewServer(server.Router())
	t.Cleanup(env.server.Close)
	env.custody = custody
	return env
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"scope": ScopeSaleAdmin,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (env *rpcEnv) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, env.server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload := map[string]json.RawMessage{}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func errorCode(t *testing.T, payload map[string]json.RawMessage) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(payload["error"], &body))
	return body.Code
}

func (env *rpcEnv) seedSale(t *testing.T, lockDuration int64) {
	t.Helper()
	token := adminToken(t)
	resp, _ := env.do(t, http.MethodPut, "/v1/admin/plans/1", token, map[string]interface{}{
		"discountBps":  500,
		"bonusBps":     1000,
		"startTime":    5_000,
		"endTime":      20_000,
		"lockDuration": lockDuration,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPut, "/v1/admin/assets/"+assetAddr, token, map[string]interface{}{
		"symbol":     "USDT",
		"supported":  true,
		"minPerUser": "1",
		"maxPerUser": "100",
		"hardCap":    "1000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Fund the buyer's payment balance and the vault's sale-token pool.
	resp, _ = env.do(t, http.MethodPost, "/v1/admin/fund", token, map[string]string{
		"owner": buyerAddr, "asset": assetAddr, "amount": "1000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, env.custody.Mint(env.custody.Vault(), sale.SaleTokenAsset(), big.NewInt(1_000_000)))
}

func TestAdminSurfaceRequiresToken(t *testing.T) {
	env := newRPCEnv(t)

	resp, payload := env.do(t, http.MethodPut, "/v1/admin/plans/1", "", map[string]interface{}{})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Unauthorized", errorCode(t, payload))

	badToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"scope": ScopeSaleAdmin,
	}).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)
	resp, _ = env.do(t, http.MethodPut, "/v1/admin/plans/1", badToken, map[string]interface{}{})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	noScope, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"scope": "sale.read",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	resp, _ = env.do(t, http.MethodPut, "/v1/admin/plans/1", noScope, map[string]interface{}{})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBuyClaimFlow(t *testing.T) {
	env := newRPCEnv(t)
	env.seedSale(t, 3_600)

	resp, payload := env.do(t, http.MethodPost, "/v1/sale/buy", "", buyRequest{
		Plan: 1, Asset: assetAddr, Buyer: buyerAddr, Amount: "10",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tokens string
	require.NoError(t, json.Unmarshal(payload["tokensReceived"], &tokens))
	// rate 10 -> gross 100, 5% discount -> effective 9, 100/9 = 11.
	require.Equal(t, "11", tokens)

	resp, payload = env.do(t, http.MethodPost, "/v1/sale/buy", "", buyRequest{
		Plan: 1, Asset: assetAddr, Buyer: buyerAddr, Amount: "10",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "AlreadyPurchased", errorCode(t, payload))

	resp, payload = env.do(t, http.MethodPost, "/v1/sale/claim", "", claimRequest{Plan: 1, Buyer: buyerAddr})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "StillLocked", errorCode(t, payload))

	*env.now += 3_600
	resp, payload = env.do(t, http.MethodPost, "/v1/sale/claim", "", claimRequest{Plan: 1, Buyer: buyerAddr})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payout string
	require.NoError(t, json.Unmarshal(payload["payout"], &payout))
	require.Equal(t, "12", payout)

	resp, payload = env.do(t, http.MethodPost, "/v1/sale/claim", "", claimRequest{Plan: 1, Buyer: buyerAddr})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "AlreadyClaimed", errorCode(t, payload))

	resp, payload = env.do(t, http.MethodGet, fmt.Sprintf("/v1/sale/balances/%s/%s", buyerAddr, assetAddr), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var balance string
	require.NoError(t, json.Unmarshal(payload["balance"], &balance))
	require.Equal(t, "990", balance)
}

func TestQueriesAndErrorMapping(t *testing.T) {
	env := newRPCEnv(t)
	env.seedSale(t, 0)

	resp, payload := env.do(t, http.MethodGet, "/v1/sale/plans/1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var discount uint32
	require.NoError(t, json.Unmarshal(payload["discountBps"], &discount))
	require.EqualValues(t, 500, discount)

	resp, payload = env.do(t, http.MethodGet, "/v1/sale/plans/99", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "PlanNotFound", errorCode(t, payload))

	resp, _ = env.do(t, http.MethodGet, "/v1/sale/assets/"+assetAddr, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload = env.do(t, http.MethodGet, fmt.Sprintf("/v1/sale/purchases/1/%s", buyerAddr), "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NothingToClaim", errorCode(t, payload))

	resp, payload = env.do(t, http.MethodPost, "/v1/sale/buy", "", buyRequest{
		Plan: 1, Asset: assetAddr, Buyer: buyerAddr, Amount: "101",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "AmountOutOfRange", errorCode(t, payload))

	resp, payload = env.do(t, http.MethodPost, "/v1/sale/buy", "", buyRequest{
		Plan: 1, Asset: assetAddr, Buyer: "not-an-address", Amount: "10",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "BadRequest", errorCode(t, payload))
}

func TestSweepEndpoint(t *testing.T) {
	env := newRPCEnv(t)
	env.seedSale(t, 0)
	token := adminToken(t)

	resp, _ := env.do(t, http.MethodPost, "/v1/sale/buy", "", buyRequest{
		Plan: 1, Asset: assetAddr, Buyer: buyerAddr, Amount: "10",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/admin/sweep", token, sweepRequest{
		Asset:     assetAddr,
		Recipient: "0x0000000000000000000000000000000000000099",
		Amount:    "10",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Sweeping more than custody holds fails as a transfer error.
	resp, payload := env.do(t, http.MethodPost, "/v1/admin/sweep", token, sweepRequest{
		Asset:     assetAddr,
		Recipient: "0x0000000000000000000000000000000000000099",
		Amount:    "10",
	})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, "TransferFailed", errorCode(t, payload))
}
