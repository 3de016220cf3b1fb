package devicelink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	commands "groundcontrol/internal/commands/domain"
)

// ErrUnauthorized is returned when the server rejects the device token.
var ErrUnauthorized = errors.New("devicelink: unauthorized")

// Client is the device side of the ground-control protocol.
type Client struct {
	baseURL  string
	flightID string
	token    string
	useCBOR  bool
	client   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. Its timeout must exceed the
// server poll window.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithCBOR sends telemetry as application/cbor.
func WithCBOR(enabled bool) Option {
	return func(c *Client) {
		c.useCBOR = enabled
	}
}

// NewClient constructs a device client for one flight.
func NewClient(baseURL, flightID, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("devicelink: empty base url")
	}
	if flightID == "" {
		return nil, errors.New("devicelink: empty flight id")
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		flightID: flightID,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LogEntry is one telemetry sample sent by the device.
type LogEntry struct {
	Sent int64          `json:"sent" cbor:"sent"`
	Data map[string]any `json:"data" cbor:"data"`
}

type ackResponse struct {
	OK           bool     `json:"ok"`
	Acknowledged []string `json:"acknowledged"`
}

type ingestResponse struct {
	OK       bool `json:"ok"`
	Inserted int  `json:"inserted"`
}

// NextCommands long-polls for queued commands. An empty slice means the poll
// window elapsed with nothing to do.
func (c *Client) NextCommands(ctx context.Context) ([]commands.Delivery, error) {
	var out []commands.Delivery
	if err := c.doJSON(ctx, http.MethodGet, c.flightPath("commands/next"), nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []commands.Delivery{}
	}
	return out, nil
}

// Ack confirms executed commands and returns the ids the server resolved.
func (c *Client) Ack(ctx context.Context, refs []commands.Ref) ([]string, error) {
	if len(refs) == 0 {
		return []string{}, nil
	}
	var resp ackResponse
	if err := c.doJSON(ctx, http.MethodPost, c.flightPath("commands/ack"), refs, &resp); err != nil {
		return nil, err
	}
	return resp.Acknowledged, nil
}

// SendLogs uploads a telemetry batch and returns the number stored.
func (c *Client) SendLogs(ctx context.Context, entries []LogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	var (
		payload     []byte
		contentType string
		err         error
	)
	if c.useCBOR {
		payload, err = cbor.Marshal(entries)
		contentType = "application/cbor"
	} else {
		payload, err = json.Marshal(entries)
		contentType = "application/json"
	}
	if err != nil {
		return 0, err
	}
	var resp ingestResponse
	if err := c.do(ctx, http.MethodPost, c.flightPath("logs"), contentType, payload, &resp); err != nil {
		return 0, err
	}
	return resp.Inserted, nil
}

func (c *Client) flightPath(suffix string) string {
	return "/api/flights/" + url.PathEscape(c.flightID) + "/" + suffix
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = encoded
	}
	return c.do(ctx, method, path, "application/json", payload, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if len(payload) > 0 {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("devicelink: http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
