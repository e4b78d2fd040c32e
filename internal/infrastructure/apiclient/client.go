// Package apiclient talks to the analyzer HTTP API on behalf of the CLI.
package apiclient

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

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

const defaultTimeout = 60 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL is the API root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type authorizeRequest struct {
	ObjectName  string `json:"object_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type uploadResponse struct {
	URL        string `json:"url"`
	ObjectName string `json:"object_name"`
}

type errorResponse struct {
	ID        string                   `json:"id,omitempty"`
	Error     string                   `json:"error"`
	ErrorType domain.AnalysisErrorType `json:"error_type,omitempty"`
}

type analyzeRequest struct {
	URL      string `json:"url"`
	Language string `json:"language,omitempty"`
}

type analyzeResponse struct {
	ID       string                   `json:"id"`
	Status   domain.AnalysisStatus    `json:"status"`
	Language string                   `json:"language"`
	Analysis *domain.PropertyAnalysis `json:"analysis,omitempty"`
	Summary  string                   `json:"summary,omitempty"`
}

func (c *Client) Authorize(ctx context.Context, objectName string, constraints domain.UploadConstraints) (*domain.UploadAuthorization, error) {
	var auth domain.UploadAuthorization
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/uploads/authorize", authorizeRequest{
		ObjectName:  objectName,
		ContentType: constraints.ContentType,
		Size:        constraints.Size,
	}, &auth, http.StatusOK)
	if err != nil {
		return nil, err
	}
	if auth.UploadURL == "" || auth.Token == "" {
		return nil, errors.New("authorize upload: incomplete handshake response")
	}
	return &auth, nil
}

func (c *Client) Transfer(ctx context.Context, content io.Reader, auth *domain.UploadAuthorization) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, auth.UploadURL, content)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+auth.Token)
	req.Header.Set("Content-Type", domain.PDFMediaType)

	var out uploadResponse
	if err := c.do(req, &out, http.StatusCreated, http.StatusOK); err != nil {
		return "", err
	}
	return out.URL, nil
}

// Head checks that the object behind url can be fetched.
func (c *Client) Head(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("create head request: %w", err)
	}
	return c.do(req, nil, http.StatusOK)
}

// Delete asks the API to delete the object behind blobURL. A missing object
// counts as deleted.
func (c *Client) Delete(ctx context.Context, blobURL string) error {
	endpoint := c.baseURL + "/v1/blobs?url=" + url.QueryEscape(blobURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	err = c.do(req, nil, http.StatusNoContent, http.StatusOK)
	if domain.IsKind(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func (c *Client) AnalyzeURL(ctx context.Context, documentURL, language string) (*domain.AnalysisRecord, error) {
	var out analyzeResponse
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/analyze", analyzeRequest{URL: documentURL, Language: language}, &out, http.StatusOK)
	if err != nil {
		return nil, err
	}
	status := out.Status
	if status == "" {
		status = domain.AnalysisStatusCompleted
	}
	return &domain.AnalysisRecord{
		ID:          out.ID,
		DocumentURL: documentURL,
		Language:    out.Language,
		Status:      status,
		Outcome:     domain.AnalysisOutcome{Analysis: out.Analysis, Summary: out.Summary},
	}, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any, expected ...int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out, expected...)
}

func (c *Client) do(req *http.Request, out any, expected ...int) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, req.Method+" "+req.URL.Path, err)
	}
	defer resp.Body.Close()

	for _, code := range expected {
		if resp.StatusCode != code {
			continue
		}
		if out == nil || req.Method == http.MethodHead || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
		}
		return nil
	}
	return decodeError(req, resp)
}

func decodeError(req *http.Request, resp *http.Response) error {
	op := req.Method + " " + req.URL.Path
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload errorResponse
	_ = json.Unmarshal(raw, &payload)
	message := strings.TrimSpace(payload.Error)
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	if message == "" {
		message = resp.Status
	}

	if payload.ErrorType != "" {
		return &domain.AnalysisError{Type: payload.ErrorType, Message: message}
	}

	statusErr := fmt.Errorf("status %s: %s", resp.Status, message)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.WrapError(domain.ErrNotFound, op, statusErr)
	case resp.StatusCode == http.StatusBadRequest:
		return domain.WrapError(domain.ErrInvalidInput, op, statusErr)
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.WrapError(domain.ErrUnauthorized, op, statusErr)
	case resp.StatusCode == http.StatusForbidden:
		return domain.WrapError(domain.ErrForbidden, op, statusErr)
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.WrapError(domain.ErrRateLimited, op, statusErr)
	case resp.StatusCode >= http.StatusInternalServerError:
		return domain.WrapError(domain.ErrTemporary, op, statusErr)
	default:
		return fmt.Errorf("%s: %w", op, statusErr)
	}
}
