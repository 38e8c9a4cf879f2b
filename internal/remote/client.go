package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"startup-analyst/internal/documents"
	"startup-analyst/internal/progress"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 16 << 20
)

// ClientConfig configures the HTTP client. When OAuth client credentials are
// present they win over the static token.
type ClientConfig struct {
	BaseURL           string
	Token             string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string
	OAuthScopes       []string
	Timeout           time.Duration
}

// Client is the HTTP analysis service client. It implements Submitter,
// ProgressSource, ProgressClearer and Backend.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	newStartupID func() string
}

// NewClient builds a client. ctx scopes token refreshes and should outlive
// the client.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("ANALYSIS_SERVICE_URL is required")
	}
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid analysis service url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	plain := &http.Client{Timeout: timeout}
	httpClient := plain
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, plain)
	switch {
	case cfg.OAuthClientID != "" && cfg.OAuthTokenURL != "":
		cc := &clientcredentials.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			TokenURL:     cfg.OAuthTokenURL,
			Scopes:       cfg.OAuthScopes,
		}
		httpClient = cc.Client(tokenCtx)
		httpClient.Timeout = timeout
	case strings.TrimSpace(cfg.Token) != "":
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(cfg.Token), TokenType: "Bearer"})
		httpClient = oauth2.NewClient(tokenCtx, src)
		httpClient.Timeout = timeout
	}

	return &Client{
		baseURL:      base,
		httpClient:   httpClient,
		newStartupID: uuid.NewString,
	}, nil
}

type submitResponse struct {
	Success   *bool  `json:"success"`
	Error     string `json:"error"`
	StartupID string `json:"startup_id"`
	Documents []struct {
		DocumentID   string `json:"document_id"`
		Filename     string `json:"filename"`
		DocumentType string `json:"document_type"`
		Status       string `json:"status"`
	} `json:"documents"`
	JobID      string   `json:"job_id"`
	JobIDCamel string   `json:"jobId"`
	DocumentID string   `json:"document_id"`
	JobIDs     []string `json:"jobIds"`
}

// SubmitAnalysis uploads the batch as one multipart request. Every file
// becomes its own job.
func (c *Client) SubmitAnalysis(ctx context.Context, files []documents.File) (Submission, error) {
	if len(files) == 0 {
		return Submission{}, documents.ErrNoFiles
	}
	startupID := c.newStartupID()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Name))
		h.Set("Content-Type", f.MimeType())
		part, err := mw.CreatePart(h)
		if err != nil {
			return Submission{}, fmt.Errorf("multipart part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return Submission{}, fmt.Errorf("multipart write: %w", err)
		}
		if err := mw.WriteField("document_types", string(f.Type)); err != nil {
			return Submission{}, fmt.Errorf("multipart field: %w", err)
		}
	}
	if err := mw.WriteField("startup_id", startupID); err != nil {
		return Submission{}, fmt.Errorf("multipart field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Submission{}, fmt.Errorf("multipart close: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload/batch", &buf)
	if err != nil {
		return Submission{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	body, err := c.do(req)
	if err != nil {
		return Submission{}, err
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Submission{}, fmt.Errorf("%w: decode submit response: %v", ErrRemoteRejected, err)
	}
	if resp.Success != nil && !*resp.Success {
		return Submission{}, fmt.Errorf("%w: %s", ErrRemoteRejected, resp.Error)
	}

	sub := Submission{StartupID: firstNonEmpty(resp.StartupID, startupID)}
	for _, d := range resp.Documents {
		sub.Documents = append(sub.Documents, SubmittedDocument{
			JobID:        d.DocumentID,
			FileName:     d.Filename,
			DocumentType: d.DocumentType,
			Status:       d.Status,
		})
	}
	sub.JobIDs = jobIDs(sub.Documents)
	if len(sub.JobIDs) == 0 {
		sub.JobIDs = compact(append(resp.JobIDs, resp.JobID, resp.JobIDCamel, resp.DocumentID))
	}
	if len(sub.JobIDs) == 0 {
		return Submission{}, fmt.Errorf("%w: no job id in submit response", ErrRemoteRejected)
	}
	return sub, nil
}

// QueryProgress fetches the progress of all jobs.
func (c *Client) QueryProgress(ctx context.Context) (progress.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/progress", nil)
	if err != nil {
		return progress.Snapshot{}, err
	}
	body, err := c.do(req)
	if err != nil {
		return progress.Snapshot{}, err
	}
	return progress.DecodeSnapshot(body)
}

// ClearProgress deletes one job's progress entry.
func (c *Client) ClearProgress(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/progress/"+url.PathEscape(jobID), nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// ListResults returns every stored result. The service may answer with a
// bare array or wrap it in "results" or "data".
func (c *Client) ListResults(ctx context.Context) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/results", nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return decodeResultList(body)
}

func decodeResultList(body []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var items []any
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: decode results: %v", ErrRemoteRejected, err)
		}
	} else {
		var env struct {
			Success *bool  `json:"success"`
			Error   string `json:"error"`
			Results []any  `json:"results"`
			Data    []any  `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("%w: decode results: %v", ErrRemoteRejected, err)
		}
		if env.Success != nil && !*env.Success {
			return nil, fmt.Errorf("%w: %s", ErrRemoteRejected, env.Error)
		}
		items = env.Results
		if items == nil {
			items = env.Data
		}
	}

	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		// Non-object entries still count as records so they surface with
		// defaults instead of vanishing.
		m, ok := item.(map[string]any)
		if !ok {
			m = map[string]any{}
		}
		out = append(out, m)
	}
	return out, nil
}

// CreateResult stores a record and returns the id assigned by the service.
func (c *Client) CreateResult(ctx context.Context, record map[string]any) (string, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/results", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	var resp struct {
		Success *bool  `json:"success"`
		ID      string `json:"id"`
		Error   string `json:"error"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("%w: decode create response: %v", ErrRemoteRejected, err)
		}
	}
	if resp.Success != nil && !*resp.Success {
		return "", fmt.Errorf("%w: %s", ErrRemoteRejected, resp.Error)
	}
	if resp.ID == "" {
		if id, ok := record["id"].(string); ok {
			resp.ID = id
		}
	}
	return resp.ID, nil
}

// DeleteResult removes a stored record.
func (c *Client) DeleteResult(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/results/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	var resp struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &resp) == nil && resp.Success != nil && !*resp.Success {
		return fmt.Errorf("%w: %s", ErrRemoteRejected, resp.Error)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, statusError(req, resp.StatusCode, body)
}

func statusError(req *http.Request, code int, body []byte) error {
	detail := errorDetail(body)
	var base error
	switch {
	case code == http.StatusNotFound:
		base = ErrNotFound
	case code >= 500 || code == http.StatusTooManyRequests:
		base = ErrUnavailable
	default:
		base = ErrRemoteRejected
	}
	return fmt.Errorf("%w: %s %s returned %d %s", base, req.Method, req.URL.Path, code, detail)
}

func errorDetail(body []byte) string {
	var env struct {
		Detail  any    `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &env) == nil {
		if s, ok := env.Detail.(string); ok && s != "" {
			return s
		}
		if env.Error != "" {
			return env.Error
		}
		if env.Message != "" {
			return env.Message
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func compact(in []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var (
	_ Submitter       = (*Client)(nil)
	_ ProgressSource  = (*Client)(nil)
	_ ProgressClearer = (*Client)(nil)
	_ Backend         = (*Client)(nil)
)
