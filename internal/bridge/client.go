package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MAF2414/kyco-sub004/internal/kerrors"
	"github.com/MAF2414/kyco-sub004/internal/logging"
)

// connectTimeout and readTimeout match spec §4.4/§5.
const (
	connectTimeout = 5 * time.Second
	readTimeout    = 300 * time.Second

	maxQueryRetries = 3
)

// retryDelays are the fixed backoff steps for the initial query POST
// (spec §4.3: "500ms, 1s, 2s"). This is a plain fixed-step loop, not
// cenkalti/backoff — that library drives the sidecar health-probe backoff
// in sidecar.go's EnsureRunning instead, where jittered exponential backoff
// is actually wanted.
var retryDelays = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// Client talks to the agent sidecar over HTTP + NDJSON (spec §4.4).
// It is cheap to share: all state is an immutable base URL, an optional
// token, and an http.Client with KYCo's connect/read timeouts.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client targeting baseURL (DefaultBridgeURL if empty).
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBridgeURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				// connectTimeout is not set here: QueryStream bounds the
				// establishing of a query response with a connectTimeout
				// timer on the request context. Dialing uses the default
				// dialer; Timeout above bounds each whole request.
			},
		},
	}
}

// encodeSegment percent-encodes a URL path segment keeping only the RFC3986
// unreserved set (ALPHA / DIGIT / "-" / "." / "_" / "~") literal — a
// hand-rolled encoder because net/url's PathEscape escapes differently
// for a few punctuation characters than the bridge expects (spec §9:
// "do not rely on a query-string library that percent-encodes
// differently"). Grounded on
// original_source/src/agent/bridge/client/mod.rs::encode_url_path_segment.
func encodeSegment(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-KYCO-Token", c.token)
	}
	return req, nil
}

// doWithRetry issues req up to maxQueryRetries+1 times, retrying only on
// connection-level failure (not on HTTP error status) with the fixed
// delays in retryDelays (spec §4.3, B3).
func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxQueryRetries; attempt++ {
		resp, err := c.http.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == maxQueryRetries {
			break
		}
		logging.Warn("bridge request to %s failed (attempt %d/%d): %v", req.URL.Path, attempt+1, maxQueryRetries+1, err)
		select {
		case <-time.After(retryDelays[attempt]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%s %s: %w: %w", req.Method, req.URL.Path, kerrors.ErrTransport, lastErr)
}

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return out, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("bridge health check: %w: %w", kerrors.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("bridge health check: status %d: %w", resp.StatusCode, kerrors.ErrTransport)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode health response: %w", err)
	}
	return out, nil
}

// WaitHealthy polls /health up to attempts times, waiting interval between
// polls, until one succeeds or ctx is done. It returns ctx's error if ctx
// ends first, otherwise an error wrapping the last failed probe.
func (c *Client) WaitHealthy(ctx context.Context, attempts int, interval time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if _, err := c.Health(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("bridge did not become healthy after %d attempts: %w", attempts, lastErr)
}

// Status probes GET /status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	req, err := c.newRequest(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return out, err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode status response: %w", err)
	}
	return out, nil
}

// QueryStream opens a claude/query or codex/query NDJSON stream. The
// retry/backoff above covers only establishing this connection; once the
// body is streaming, no reconnect is attempted (spec §4.3, B3) — the
// caller must drain or close done to stop decoding.
func (c *Client) QueryStream(ctx context.Context, path string, body any, done <-chan struct{}) (<-chan StreamItem, func() error, error) {
	connectCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(connectTimeout, cancel)
	req, err := c.newRequest(connectCtx, http.MethodPost, path, body)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, nil, err
	}
	resp, err := c.doWithRetry(connectCtx, req)
	timer.Stop()
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := jsonReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("bridge query %s: status %d: %s: %w", path, resp.StatusCode, body, kerrors.ErrTransport)
	}
	items := DecodeStream(resp.Body, done)
	closeBody := func() error {
		err := resp.Body.Close()
		cancel()
		return err
	}
	return items, closeBody, nil
}

func jsonReadAll(r interface{ Read([]byte) (int, error) }) (string, error) {
	buf := make([]byte, 4096)
	n, err := r.Read(buf)
	return string(buf[:n]), err
}

// ClaudeQuery starts or continues a Claude session.
func (c *Client) ClaudeQuery(ctx context.Context, req ClaudeQueryRequest, done <-chan struct{}) (<-chan StreamItem, func() error, error) {
	return c.QueryStream(ctx, "/claude/query", req, done)
}

// CodexQuery starts or continues a Codex thread.
func (c *Client) CodexQuery(ctx context.Context, req CodexQueryRequest, done <-chan struct{}) (<-chan StreamItem, func() error, error) {
	return c.QueryStream(ctx, "/codex/query", req, done)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bridge %s: %w: %w", path, kerrors.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("bridge %s: status %d: %w", path, resp.StatusCode, kerrors.ErrTransport)
	}
	return nil
}

// InterruptClaude soft-interrupts a running Claude session.
func (c *Client) InterruptClaude(ctx context.Context, sessionID string) error {
	return c.post(ctx, "/claude/interrupt/"+encodeSegment(sessionID), nil)
}

// SetClaudePermissionMode switches a Claude session's permission mode mid-stream.
func (c *Client) SetClaudePermissionMode(ctx context.Context, sessionID string, mode PermissionMode) error {
	return c.post(ctx, "/claude/set-permission-mode/"+encodeSegment(sessionID), map[string]PermissionMode{"permissionMode": mode})
}

// InterruptCodex soft-interrupts a running Codex thread.
func (c *Client) InterruptCodex(ctx context.Context, threadID string) error {
	return c.post(ctx, "/codex/interrupt/"+encodeSegment(threadID), nil)
}

// SendToolApproval delivers a user decision for a pending approval.
func (c *Client) SendToolApproval(ctx context.Context, resp ToolApprovalResponse) error {
	return c.post(ctx, "/claude/tool-approval", resp)
}

// ListSessions lists sessions the bridge still remembers.
func (c *Client) ListSessions(ctx context.Context) ([]StoredSession, error) {
	var out []StoredSession
	req, err := c.newRequest(ctx, http.MethodGet, "/sessions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode sessions response: %w", err)
	}
	return out, nil
}

// GetSession fetches a single stored session by id.
func (c *Client) GetSession(ctx context.Context, id string) (StoredSession, error) {
	var out StoredSession
	req, err := c.newRequest(ctx, http.MethodGet, "/sessions/"+encodeSegment(id), nil)
	if err != nil {
		return out, err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return out, fmt.Errorf("session %s: %w", id, kerrors.ErrNotFound)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode session response: %w", err)
	}
	return out, nil
}
