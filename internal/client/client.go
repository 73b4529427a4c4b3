package client

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

	"golang.org/x/oauth2/clientcredentials"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/action"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/env"
)

type Config struct {
	ServerURL    string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	Timeout      time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("CODEMODS_CLIENT_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		ServerURL:    strings.TrimRight(strings.TrimSpace(env.String("CODEMODS_SERVER_URL", "http://localhost:7007")), "/"),
		ClientID:     strings.TrimSpace(env.String("CODEMODS_CLIENT_ID", "")),
		ClientSecret: env.String("CODEMODS_CLIENT_SECRET", ""),
		TokenURL:     strings.TrimSpace(env.String("CODEMODS_TOKEN_URL", "")),
		Scopes:       env.CSV("CODEMODS_CLIENT_SCOPES", nil),
		Timeout:      timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("CODEMODS_SERVER_URL is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("CODEMODS_SERVER_URL must be an absolute URL (got %q)", c.ServerURL)
	}
	if c.ClientID != "" && c.TokenURL == "" {
		return errors.New("CODEMODS_TOKEN_URL is required when CODEMODS_CLIENT_ID is set")
	}
	if c.Timeout <= 0 {
		return errors.New("CODEMODS_CLIENT_TIMEOUT must be positive")
	}
	return nil
}

// Client talks to the codemods API. With client credentials configured,
// every request carries a bearer token obtained from the token endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		hc = cc.Client(ctx)
		hc.Timeout = cfg.Timeout
	}
	return NewWithHTTPClient(cfg.ServerURL, hc), nil
}

func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// APIError is a non-2xx answer of the API.
type APIError struct {
	Status    int
	Message   string
	RequestID string
	Errors    []string
}

func (e *APIError) Error() string {
	msg := e.Message
	if len(e.Errors) > 0 {
		msg = strings.Join(e.Errors, "; ")
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("codemods api: %d %s", e.Status, msg)
}

type DispatchRequest struct {
	CodemodRef string         `json:"codemodRef"`
	Values     map[string]any `json:"values"`
	Targets    catalog.Filter `json:"targets"`
}

// Dispatch starts a run and returns its id.
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/runs", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (domain.Run, error) {
	var run domain.Run
	err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(id), nil, &run)
	return run, err
}

func (c *Client) ListJobs(ctx context.Context, runID string) ([]domain.Job, error) {
	var out struct {
		Jobs []domain.Job `json:"jobs"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID)+"/jobs", nil, &out)
	return out.Jobs, err
}

func (c *Client) Actions(ctx context.Context) ([]action.Info, error) {
	var out struct {
		Actions []action.Info `json:"actions"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/actions", nil, &out)
	return out.Actions, err
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get("X-Request-Id")}
		var envelope struct {
			Error     string   `json:"error"`
			Errors    []string `json:"errors"`
			RequestID string   `json:"request_id"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Message = envelope.Error
			apiErr.Errors = envelope.Errors
			if envelope.RequestID != "" {
				apiErr.RequestID = envelope.RequestID
			}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
