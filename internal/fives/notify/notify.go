// Package notify posts transactional emails to an external webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	e "github.com/gartstein/fives/internal/fives/errors"
	"go.uber.org/zap"
)

// Message is the JSON body the webhook receives.
type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

func (m Message) validate() error {
	if len(m.To) == 0 {
		return fmt.Errorf("%w: message needs a recipient", e.ErrInvalidInput)
	}
	for _, to := range m.To {
		if !strings.Contains(to, "@") {
			return fmt.Errorf("%w: bad recipient %q", e.ErrInvalidInput, to)
		}
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: message needs a subject", e.ErrInvalidInput)
	}
	return nil
}

type Client struct {
	url        string
	token      string
	httpClient *http.Client
	maxRetries uint64
	logger     *zap.Logger
}

// NewClient posts to webhookURL, authenticating with token when set.
func NewClient(webhookURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		url:        webhookURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 3,
		logger:     logger.Named("notify"),
	}
}

// Send delivers msg. 5xx responses and transport errors are retried with
// exponential backoff; 4xx responses are not.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c.url == "" {
		return fmt.Errorf("%w: no webhook configured", e.ErrInvalidInput)
	}
	if err := msg.validate(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)

	err = backoff.Retry(func() error {
		return c.post(ctx, body)
	}, policy)
	if err != nil {
		c.logger.Error("Failed to send email", zap.Strings("to", msg.To), zap.Error(err))
		return err
	}
	c.logger.Info("Email sent", zap.Strings("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("%w: webhook returned %d", e.ErrInvalidInput, resp.StatusCode))
	}
}
