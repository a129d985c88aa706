package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// WebhookNotifier POSTs fee events to an accounting service endpoint.
type WebhookNotifier struct {
	enabled bool
	url     string
	client  *http.Client
}

func NewWebhookNotifier(enabled bool, url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		enabled: enabled,
		url:     strings.TrimRight(url, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type feeEventPayload struct {
	Owner string `json:"owner"`
	Token string `json:"token"`
	Value string `json:"value"`
	At    string `json:"at"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, owner, token common.Address, value *uint256.Int) error {
	if w == nil || !w.enabled {
		return nil
	}
	body, err := json.Marshal(feeEventPayload{
		Owner: owner.Hex(),
		Token: token.Hex(),
		Value: value.Dec(),
		At:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("accounting webhook status=%d body=%s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}
