package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/WorldSprites/websocket-server/domain"
)

// Result is the outcome of one authentication attempt. Status carries the
// authenticator's HTTP status when one was received, 500 otherwise.
type Result struct {
	Result bool
	Status domain.Status
}

// Bridge performs the one-shot token check against the external
// authenticator. It never returns an error: every failure mode collapses to
// a denied Result so a broken authenticator cannot take the relay down.
type Bridge struct {
	url    string
	client *http.Client
}

func NewBridge(url string, timeout time.Duration) *Bridge {
	return &Bridge{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Authenticate POSTs {uuid, token} and reads a {result: bool} body. Non-2xx
// statuses deny with the external status; transport and decode failures
// deny with 500.
func (b *Bridge) Authenticate(ctx context.Context, uuid, token string) Result {
	body, err := json.Marshal(map[string]string{"uuid": uuid, "token": token})
	if err != nil {
		return Result{Status: domain.StatusInternal}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		slog.Error("auth request could not be built", "error", err)
		return Result{Status: domain.StatusInternal}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		slog.Warn("auth request failed", "uuid", uuid, "error", err)
		return Result{Status: domain.StatusInternal}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("auth rejected upstream", "uuid", uuid, "status", resp.StatusCode)
		return Result{Status: domain.Status(resp.StatusCode)}
	}

	var payload struct {
		Result bool `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		slog.Warn("auth response undecodable", "uuid", uuid, "error", err)
		return Result{Status: domain.StatusInternal}
	}

	return Result{Result: payload.Result, Status: domain.Status(resp.StatusCode)}
}
