// Package notify implements the outbound send primitive and its failure
// taxonomy. Delivery failures are classified so the scheduler can tell
// a dead recipient (evict) from a transient hiccup (log and continue).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FailureKind classifies a send failure
type FailureKind int

// send failure kinds
const (
	Transient FailureKind = iota // temporary, do not evict
	Forbidden                    // recipient blocked or unreachable, evict
	BadRequest                   // recipient invalid, evict
)

// SendError is a classified delivery failure for a single recipient
type SendError struct {
	Kind   FailureKind
	ChatID int64
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %d failed: %v", e.ChatID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ShouldEvict reports whether the failed recipient must be removed
// from every subscription set
func (e *SendError) ShouldEvict() bool {
	return e.Kind == Forbidden || e.Kind == BadRequest
}

// Telegram sends messages through the Bot API sendMessage method
type Telegram struct {
	token  string
	apiURL string
	client *http.Client
}

// NewTelegram creates a Telegram sender. apiURL overrides the Bot API base
// for tests, pass "" for the production endpoint.
func NewTelegram(token string, timeout time.Duration, apiURL string) *Telegram {
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	return &Telegram{
		token:  token,
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Send delivers one rendered message to a chat. Failures come back as
// *SendError with the kind derived from the Bot API status code.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": false,
	})
	if err != nil {
		return &SendError{Kind: Transient, ChatID: chatID, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &SendError{Kind: Transient, ChatID: chatID, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return &SendError{Kind: Transient, ChatID: chatID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	kind := Transient
	switch resp.StatusCode {
	case http.StatusForbidden:
		kind = Forbidden
	case http.StatusBadRequest:
		kind = BadRequest
	}
	return &SendError{Kind: kind, ChatID: chatID, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
}

// AsSendError unwraps a *SendError from an error chain
func AsSendError(err error) (*SendError, bool) {
	var se *SendError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
