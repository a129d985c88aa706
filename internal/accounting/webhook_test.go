package accounting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestWebhookNotifierPostsPayload(t *testing.T) {
	var (
		mu   sync.Mutex
		body []byte
		ct   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		ct = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(true, srv.URL, 5*time.Second)
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")
	if err := n.Notify(context.Background(), owner, token, uint256.NewInt(12345)); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if ct != "application/json" {
		t.Fatalf("content type = %q, want application/json", ct)
	}
	var payload struct {
		Owner string `json:"owner"`
		Token string `json:"token"`
		Value string `json:"value"`
		At    string `json:"at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Owner != owner.Hex() || payload.Token != token.Hex() {
		t.Fatalf("payload addresses = %s/%s", payload.Owner, payload.Token)
	}
	if payload.Value != "12345" {
		t.Fatalf("payload value = %q, want 12345", payload.Value)
	}
	if _, err := time.Parse(time.RFC3339, payload.At); err != nil {
		t.Fatalf("payload at = %q: %v", payload.At, err)
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ledger rejected entry", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(true, srv.URL, 5*time.Second)
	err := n.Notify(context.Background(), common.Address{}, common.Address{}, uint256.NewInt(1))
	if err == nil {
		t.Fatal("Notify() accepted 422 response")
	}
	if !strings.Contains(err.Error(), "status=422") || !strings.Contains(err.Error(), "ledger rejected entry") {
		t.Fatalf("Notify() error = %v, want status and body", err)
	}
}

func TestWebhookNotifierDisabledSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := NewWebhookNotifier(false, srv.URL, 5*time.Second)
	if err := n.Notify(context.Background(), common.Address{}, common.Address{}, uint256.NewInt(1)); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if called {
		t.Fatal("disabled notifier hit the endpoint")
	}
}

func TestWebhookNotifierHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and cancels
		// r.Context() when the client disconnects; otherwise Close hangs.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	n := NewWebhookNotifier(true, srv.URL, 30*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := n.Notify(ctx, common.Address{}, common.Address{}, uint256.NewInt(1)); err == nil {
		t.Fatal("Notify() ignored canceled context")
	}
}
