package rpc_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"greenledger/core/state"
	"greenledger/crypto"
	"greenledger/native/rewards"
	"greenledger/native/token"
	"greenledger/rpc"
	"greenledger/storage"
)

func newTestServer(t *testing.T) (http.Handler, *rewards.Engine) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)
	if err := manager.RegisterToken("GPN", "GreenPoints", 0); err != nil {
		t.Fatalf("register token: %v", err)
	}
	engine := rewards.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(token.NewLedger(manager))
	server := rpc.NewServer(engine, nil)
	return server.Router(), engine
}

func bech32Addr(t *testing.T, b byte) string {
	t.Helper()
	raw := make([]byte, 20)
	raw[19] = b
	addr, err := crypto.NewAddress(crypto.GreenPrefix, raw)
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	return addr.String()
}

func call(t *testing.T, handler http.Handler, method string, params interface{}) (*rpc.RPCResponse, int) {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{params},
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))
	resp := new(rpc.RPCResponse)
	if err := json.Unmarshal(recorder.Body.Bytes(), resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp, recorder.Code
}

func mustSucceed(t *testing.T, handler http.Handler, method string, params interface{}) *rpc.RPCResponse {
	t.Helper()
	resp, status := call(t, handler, method, params)
	if resp.Error != nil || status != http.StatusOK {
		t.Fatalf("%s: status %d, error %+v", method, status, resp.Error)
	}
	return resp
}

func TestFullLifecycleOverRPC(t *testing.T) {
	handler, _ := newTestServer(t)
	admin := bech32Addr(t, 0x01)
	verifier := bech32Addr(t, 0x02)
	participant := bech32Addr(t, 0x10)
	hash := strings.Repeat("ab", 32)

	mustSucceed(t, handler, "rewards_initialize", map[string]interface{}{
		"admin":       admin,
		"pointsToken": "GPN",
		"verifiers":   []string{verifier},
		"params":      map[string]interface{}{},
	})
	mustSucceed(t, handler, "rewards_registerActionType", map[string]interface{}{
		"caller":        admin,
		"slug":          "TREE",
		"name":          "Plant a tree",
		"pointsPerUnit": 100,
		"perTxCap":      10,
	})
	mustSucceed(t, handler, "rewards_join", map[string]interface{}{
		"caller": participant,
	})
	mustSucceed(t, handler, "rewards_submitAction", map[string]interface{}{
		"caller":       participant,
		"slug":         "TREE",
		"amount":       3,
		"nonce":        1,
		"evidenceHash": hash,
		"locationHash": hash,
	})
	resp := mustSucceed(t, handler, "rewards_verifyAction", map[string]interface{}{
		"caller":  verifier,
		"owner":   participant,
		"nonce":   1,
		"approve": true,
	})
	if resp.Result != "approved" {
		t.Fatalf("verify result = %v, want approved", resp.Result)
	}

	resp = mustSucceed(t, handler, "rewards_getMember", map[string]interface{}{
		"owner": participant,
	})
	member, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected member payload: %v", resp.Result)
	}
	if member["points"] != float64(300) {
		t.Fatalf("points = %v, want 300", member["points"])
	}
	if member["spendableBalance"] != "300" {
		t.Fatalf("spendableBalance = %v, want 300", member["spendableBalance"])
	}

	mustSucceed(t, handler, "rewards_redeem", map[string]interface{}{
		"caller":      participant,
		"points":      150,
		"partnerSlug": "PARTNER-X",
	})
	resp = mustSucceed(t, handler, "rewards_getMember", map[string]interface{}{
		"owner": participant,
	})
	member = resp.Result.(map[string]interface{})
	if member["spendableBalance"] != "150" || member["points"] != float64(300) {
		t.Fatalf("after redeem: %v", member)
	}
}

func TestErrorMapping(t *testing.T) {
	handler, _ := newTestServer(t)
	admin := bech32Addr(t, 0x01)
	verifier := bech32Addr(t, 0x02)
	participant := bech32Addr(t, 0x10)

	// Reads against an uninitialized module surface as not found.
	resp, status := call(t, handler, "rewards_getGlobal", map[string]interface{}{})
	if status != http.StatusNotFound || resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("uninitialized read: status %d, error %+v", status, resp.Error)
	}

	mustSucceed(t, handler, "rewards_initialize", map[string]interface{}{
		"admin":       admin,
		"pointsToken": "GPN",
		"verifiers":   []string{verifier},
		"params":      map[string]interface{}{},
	})

	// Second initialization conflicts.
	resp, status = call(t, handler, "rewards_initialize", map[string]interface{}{
		"admin":       admin,
		"pointsToken": "GPN",
		"verifiers":   []string{},
		"params":      map[string]interface{}{},
	})
	if status != http.StatusConflict || resp.Error == nil || resp.Error.Code != -32010 {
		t.Fatalf("reinitialize: status %d, error %+v", status, resp.Error)
	}

	// Admin operations from the wrong caller are forbidden.
	resp, status = call(t, handler, "rewards_pause", map[string]interface{}{
		"caller": participant,
	})
	if status != http.StatusForbidden || resp.Error == nil || resp.Error.Code != -32001 {
		t.Fatalf("unauthorized pause: status %d, error %+v", status, resp.Error)
	}

	// Malformed addresses never reach the engine.
	resp, status = call(t, handler, "rewards_join", map[string]interface{}{
		"caller": "not-an-address",
	})
	if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("bad address: status %d, error %+v", status, resp.Error)
	}

	// Unknown methods report method-not-found.
	resp, status = call(t, handler, "rewards_unknown", map[string]interface{}{})
	if status != http.StatusNotFound || resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("unknown method: status %d, error %+v", status, resp.Error)
	}
}

func TestMalformedEnvelope(t *testing.T) {
	handler, _ := newTestServer(t)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json")))
	resp := new(rpc.RPCResponse)
	if err := json.Unmarshal(recorder.Body.Bytes(), resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if recorder.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != -32700 {
		t.Fatalf("parse error: status %d, error %+v", recorder.Code, resp.Error)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")))
	resp = new(rpc.RPCResponse)
	if err := json.Unmarshal(recorder.Body.Bytes(), resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32600 {
		t.Fatalf("empty body: error %+v", resp.Error)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", recorder.Code)
	}
}
