// Package nip11 fetches a relay's information document over HTTP.
package nip11

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/codeGROOVE-dev/relayprobe/pkg/probe"
)

const (
	// DefaultTimeout bounds one request, connect included.
	DefaultTimeout = 60 * time.Second

	// MediaType is the Accept header relays key the document on.
	MediaType = "application/nostr+json"

	maxBody = 1 << 20
)

// Document is a relay information document. Raw holds the body as served;
// the typed fields cover the commonly used keys.
type Document struct {
	Limitation    *Limitation     `json:"limitation,omitempty"`
	Name          string          `json:"name,omitempty"`
	Description   string          `json:"description,omitempty"`
	PubKey        string          `json:"pubkey,omitempty"`
	Contact       string          `json:"contact,omitempty"`
	Software      string          `json:"software,omitempty"`
	Version       string          `json:"version,omitempty"`
	Raw           json.RawMessage `json:"-"`
	SupportedNIPs []int           `json:"supported_nips,omitempty"`
}

// Limitation is the limitation object of a Document.
type Limitation struct {
	MaxMessageLength int  `json:"max_message_length,omitempty"`
	MaxSubscriptions int  `json:"max_subscriptions,omitempty"`
	MaxLimit         int  `json:"max_limit,omitempty"`
	MinPowDifficulty int  `json:"min_pow_difficulty,omitempty"`
	AuthRequired     bool `json:"auth_required,omitempty"`
	PaymentRequired  bool `json:"payment_required,omitempty"`
	RestrictedWrites bool `json:"restricted_writes,omitempty"`
}

// Indent returns Raw pretty-printed.
func (d *Document) Indent() (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, d.Raw, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Client fetches information documents.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
}

// NewClient creates a client. Redirects are not followed.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:     logger,
		retryDelay: time.Second,
	}
}

// MetadataURL maps a relay address to the HTTP URL of its document:
// wss becomes https and ws becomes http.
func MetadataURL(relayURL string) (string, error) {
	u, err := probe.ParseRelayURL(relayURL)
	if err != nil {
		return "", err
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host, nil
}

// Fetch retrieves the document for relayURL. Network errors and 5xx
// responses are retried; anything else fails at once.
func (c *Client) Fetch(ctx context.Context, relayURL string) (*Document, error) {
	target, err := MetadataURL(relayURL)
	if err != nil {
		return nil, err
	}

	var doc *Document
	var lastErr error

	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
			}
			req.Header.Set("Accept", MediaType)
			req.Header.Set("User-Agent", "relayprobe/1.0")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				lastErr = fmt.Errorf("failed to make request: %w", err)
				c.logger.Warn("relay information request failed (will retry)", "url", target, "error", err)
				return err
			}
			defer func() {
				if err := resp.Body.Close(); err != nil {
					c.logger.Debug("failed to close response body", "error", err)
				}
			}()

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
			if err != nil {
				lastErr = fmt.Errorf("failed to read response: %w", err)
				return err
			}

			switch {
			case resp.StatusCode == http.StatusOK:
				var d Document
				if err := json.Unmarshal(body, &d); err != nil {
					return retry.Unrecoverable(fmt.Errorf("failed to parse relay information: %w", err))
				}
				d.Raw = json.RawMessage(body)
				doc = &d
				return nil

			case resp.StatusCode >= 300 && resp.StatusCode < 400:
				return retry.Unrecoverable(fmt.Errorf("relay redirected to %q (redirects are not followed)", resp.Header.Get("Location")))

			case resp.StatusCode >= 500:
				lastErr = fmt.Errorf("relay server error: %d", resp.StatusCode)
				c.logger.Warn("relay information server error (will retry)", "url", target, "status", resp.StatusCode)
				return lastErr

			default:
				return retry.Unrecoverable(fmt.Errorf("unexpected status: %d", resp.StatusCode))
			}
		},
		retry.Attempts(3),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(c.retryDelay),
		retry.Context(ctx),
	)
	if err != nil {
		if lastErr != nil && !errors.Is(err, context.Canceled) {
			return nil, lastErr
		}
		return nil, err
	}
	return doc, nil
}
