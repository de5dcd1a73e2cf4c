// Package api is the client for the echosketch backend's REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"echosketch/capture"
	"echosketch/log"
)

const (
	DefaultBaseURL      = "http://localhost:5000"
	DefaultTimeout      = 30 * time.Second
	DefaultVoiceTimeout = 60 * time.Second
)

// Error is a non-2xx reply from the backend.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// ErrNetwork wraps failures where no response was received.
var ErrNetwork = errors.New("network error: no response from server")

type Options struct {
	Timeout      time.Duration // JSON requests
	VoiceTimeout time.Duration // voice uploads
}

type Client struct {
	baseURL      string
	http         *TracedClient
	timeout      time.Duration
	voiceTimeout time.Duration

	mu   sync.Mutex
	last NetworkMetrics
}

func New(baseURL string, opts Options) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.VoiceTimeout <= 0 {
		opts.VoiceTimeout = DefaultVoiceTimeout
	}
	return &Client{
		baseURL:      baseURL,
		http:         NewTracedClient(baseURL + "/health"),
		timeout:      opts.Timeout,
		voiceTimeout: opts.VoiceTimeout,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Warm pre-opens a connection; call it in the background at startup.
func (c *Client) Warm() { c.http.Warm() }

// LastMetrics returns the timings of the most recent request.
func (c *Client) LastMetrics() NetworkMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

type Health struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.getJSON(ctx, "/health", &h)
	return h, err
}

// ProcessVoice uploads a recording as multipart field "audio".
func (c *Client) ProcessVoice(ctx context.Context, a capture.Artifact) (capture.Generation, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	filename := a.Filename
	if filename == "" {
		filename = "recording.webm"
	}
	mime := a.MimeType
	if mime == "" {
		mime = "audio/webm"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, filename))
	h.Set("Content-Type", mime)
	part, err := writer.CreatePart(h)
	if err != nil {
		return capture.Generation{}, err
	}
	if _, err := part.Write(a.Data); err != nil {
		return capture.Generation{}, err
	}
	if err := writer.Close(); err != nil {
		return capture.Generation{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.voiceTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/process-voice", &body)
	if err != nil {
		return capture.Generation{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var g capture.Generation
	err = c.do(req, &g)
	log.Submission("voice", err == nil, c.networkInfo())
	return g, err
}

func (c *Client) TextToImage(ctx context.Context, text string) (capture.Generation, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return capture.Generation{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/text-to-image", bytes.NewReader(payload))
	if err != nil {
		return capture.Generation{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var g capture.Generation
	err = c.do(req, &g)
	log.Submission("text", err == nil, c.networkInfo())
	return g, err
}

// SessionRecord is a generated session as stored by the backend.
type SessionRecord struct {
	ID             string          `json:"id"`
	Transcript     string          `json:"transcript"`
	VisualConcepts json.RawMessage `json:"visual_concepts,omitempty"`
	Image          capture.Image   `json:"image_data"`
	EnhancedPrompt string          `json:"enhanced_prompt,omitempty"`
	Timestamp      string          `json:"timestamp,omitempty"`
	ProcessingTime float64         `json:"processing_time,omitempty"`
}

func (c *Client) Session(ctx context.Context, id string) (SessionRecord, error) {
	var s SessionRecord
	err := c.getJSON(ctx, "/api/sessions/"+url.PathEscape(id), &s)
	return s, err
}

func (c *Client) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []SessionRecord
	err := c.getJSON(ctx, "/api/sessions?limit="+strconv.Itoa(limit), &out)
	return out, err
}

func (c *Client) Search(ctx context.Context, query string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	var out []SessionRecord
	err := c.getJSON(ctx, "/api/search?"+q.Encode(), &out)
	return out, err
}

type Stats struct {
	TotalSessions  int `json:"total_sessions"`
	TotalImages    int `json:"total_images"`
	RecentActivity int `json:"recent_activity"`
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.getJSON(ctx, "/api/stats", &s)
	return s, err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrNetwork, ctxErr)
		}
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	c.mu.Lock()
	c.last = *resp.Metrics
	c.mu.Unlock()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("response parse error: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return "Server error"
}

func (c *Client) networkInfo() log.NetworkInfo {
	m := c.LastMetrics()
	return log.NetworkInfo{
		DNSTimeMs:   float64(m.DNS.Milliseconds()),
		TLSTimeMs:   float64(m.TLS.Milliseconds()),
		TTFBMs:      float64(m.TTFB.Milliseconds()),
		TotalTimeMs: float64(m.Total.Milliseconds()),
		ConnReused:  m.ConnReused,
		TLSProtocol: m.TLSProtocol,
	}
}

// FormatMetrics renders the last request's timings, one phase per line.
func FormatMetrics(m NetworkMetrics) []string {
	reused := ""
	if m.ConnReused {
		reused = " (reused)"
	}
	return []string{
		fmt.Sprintf("conn_wait:  %dms%s", m.ConnWait.Milliseconds(), reused),
		fmt.Sprintf("dns:        %dms", m.DNS.Milliseconds()),
		fmt.Sprintf("tcp:        %dms", m.TCP.Milliseconds()),
		fmt.Sprintf("tls:        %dms", m.TLS.Milliseconds()),
		fmt.Sprintf("req_head:   %dms", m.ReqHeaders.Milliseconds()),
		fmt.Sprintf("req_body:   %dms", m.ReqBody.Milliseconds()),
		fmt.Sprintf("ttfb:       %dms", m.TTFB.Milliseconds()),
		fmt.Sprintf("download:   %dms", m.Download.Milliseconds()),
		fmt.Sprintf("total:      %dms", m.Sum().Milliseconds()),
	}
}

var _ capture.Backend = (*Client)(nil)
