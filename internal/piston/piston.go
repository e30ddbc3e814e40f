// Package piston is the client for a Piston-style code execution backend.
// It exposes the runtime capability listing, the execute call, and a small
// fire-and-forget run log endpoint. All failures map to typed upstream
// faults defined in errors.go.
package piston

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client talks to the execution backend over HTTP.
type Client struct {
	baseURL string
	logURL  string
	key     string
	timeout time.Duration
	httpc   *http.Client
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	URL     string        // backend base URL, e.g. https://emkc.org/api/v2/piston
	LogURL  string        // optional run log endpoint
	Key     string        // optional Authorization header value
	Timeout time.Duration // per-call deadline, defaults to 15s
	// For testing: inject an http.Client (e.g. httptest transport).
	HTTPClient *http.Client
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("piston: url is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.URL, "/"),
		logURL:  opts.LogURL,
		key:     opts.Key,
		timeout: timeout,
		httpc:   httpc,
	}, nil
}

// Runtime is one entry of the backend's capability listing.
type Runtime struct {
	Language string   `json:"language"`
	Version  string   `json:"version"`
	Aliases  []string `json:"aliases"`
}

// Request is one run request for the backend.
type Request struct {
	Language string   `json:"language"`
	Version  string   `json:"version"`
	Files    []File   `json:"files"`
	Args     []string `json:"args,omitempty"`
	Stdin    string   `json:"stdin,omitempty"`
}

// File is a source file within a Request.
type File struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// Output holds the captured streams of one backend stage.
type Output struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Code   int    `json:"code"`
	Output string `json:"output"`
}

// Result is a successful backend response.
type Result struct {
	Language string  `json:"language"`
	Version  string  `json:"version"`
	Run      Output  `json:"run"`
	Compile  *Output `json:"compile,omitempty"`
}

// Runtimes fetches the backend's capability listing.
func (c *Client) Runtimes(ctx context.Context) ([]Runtime, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runtimes", nil)
	if err != nil {
		return nil, fmt.Errorf("piston: build runtimes request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("piston: runtimes: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var runtimes []Runtime
	if err := json.NewDecoder(resp.Body).Decode(&runtimes); err != nil {
		return nil, fmt.Errorf("piston: decode runtimes: %w", err)
	}
	return runtimes, nil
}

// Execute submits one run request and returns the captured output.
func (c *Client) Execute(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("piston: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("piston: build execute request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("piston: execute: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("piston: decode result: %w", err)
	}
	if result.Run.Output == "" && result.Run.Stdout == "" && result.Run.Stderr == "" &&
		(result.Compile == nil || result.Compile.Stderr == "") {
		return nil, ErrNoOutput
	}
	return &result, nil
}

// LogEntry is the fire-and-forget record posted after a successful run.
type LogEntry struct {
	Server   string `json:"server"`
	User     string `json:"user"`
	Language string `json:"language"`
	Source   string `json:"source"`
}

// Log posts a run record to the log endpoint. Failures are returned for the
// caller's error log but never surface to the end user. No-op when no log
// endpoint is configured.
func (c *Client) Log(ctx context.Context, entry LogEntry) error {
	if c.logURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("piston: encode log entry: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.logURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("piston: build log request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("piston: log: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &InvalidStatusError{Code: resp.StatusCode}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", c.key)
	}
}

// checkResponse validates status and content type, mapping violations to
// typed upstream faults.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &InvalidStatusError{Code: resp.StatusCode, Body: string(body)}
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		return &InvalidContentTypeError{ContentType: ct}
	}
	return nil
}

// LoadAliases fetches the runtime listing and builds the alias table.
// Called once at startup.
func LoadAliases(ctx context.Context, c *Client, pins, extra map[string]string) (*AliasTable, error) {
	runtimes, err := c.Runtimes(ctx)
	if err != nil {
		return nil, err
	}
	table := BuildAliasTable(runtimes, pins, extra)
	log.Printf("piston: loaded %d languages from runtime listing", table.Len())
	return table, nil
}
