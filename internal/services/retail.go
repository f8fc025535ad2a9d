// Retail instance API [SourceService] / [TargetService] implementation.
//
// Talks to a rebotics-style deployment: token auth via /api/v4/token-auth/,
// file metadata via /api/v1/master-data/file-upload/{id}/, processing upload
// and scan creation via /api/v4/processing/.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/scanx/internal/models"
	"github.com/desertthunder/scanx/internal/shared"
	"golang.org/x/time/rate"
)

const (
	transientRetries  = 3
	transientBase     = 2 * time.Second
	transientCap      = 30 * time.Second
	downloadMetaLimit = 60 * time.Second
)

// RetailService implements both service contracts against one instance.
// A single instance acts as source or target depending on which methods the
// engine calls.
type RetailService struct {
	instance   string
	username   string
	password   string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// RetailOpts contains construction options for a RetailService.
type RetailOpts struct {
	Instance   string
	Username   string
	Password   string
	RateLimit  float64 // requests per second, 0 disables limiting
	HTTPClient *http.Client
}

// NewRetailService creates a client for one retail instance.
func NewRetailService(opts RetailOpts) *RetailService {
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &RetailService{
		instance:   opts.Instance,
		username:   opts.Username,
		password:   opts.Password,
		httpClient: client,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Name returns the instance name.
func (s *RetailService) Name() string {
	return s.instance
}

func (s *RetailService) baseURL() string {
	return fmt.Sprintf("https://%s.rebotics.net", s.instance)
}

// Authenticate obtains an API token via username/password token auth.
func (s *RetailService) Authenticate(ctx context.Context) error {
	if s.username == "" || s.password == "" {
		return fmt.Errorf("%w: username and password required for %s", shared.ErrMissingCredentials, s.instance)
	}

	body, err := json.Marshal(map[string]string{
		"username": s.username,
		"password": s.password,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal auth request: %w", err)
	}

	var resp struct {
		ID    json.Number `json:"id"`
		Token string      `json:"token"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/api/v4/token-auth/", body, &resp); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}
	if resp.Token == "" {
		return fmt.Errorf("%w: empty token for %s", shared.ErrAuthFailed, s.instance)
	}

	s.token = resp.Token
	return nil
}

// GetScanInfo retrieves metadata and file references for the given scans.
func (s *RetailService) GetScanInfo(ctx context.Context, ids []models.ScanID) ([]models.ScanInfo, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	endpoint := fmt.Sprintf("/api/v4/realograms/scans/?ids=%s", strings.Join(parts, ","))

	var scans []models.ScanInfo
	if err := s.doJSON(ctx, http.MethodGet, endpoint, nil, &scans); err != nil {
		return nil, fmt.Errorf("%w: failed to fetch scan info: %v", shared.ErrAPIRequest, err)
	}

	return scans, nil
}

// DownloadFile fetches one file's metadata and then its content. The
// metadata call gets its own deadline; the content fetch runs under the
// caller's remaining budget.
func (s *RetailService) DownloadFile(ctx context.Context, fileID int64) (*models.FileBlob, error) {
	metaCtx, cancel := context.WithTimeout(ctx, downloadMetaLimit)
	defer cancel()

	var meta struct {
		File     string `json:"file"`
		Filename string `json:"original_filename"`
	}
	endpoint := fmt.Sprintf("/api/v1/master-data/file-upload/%d/", fileID)
	if err := s.doJSON(metaCtx, http.MethodGet, endpoint, nil, &meta); err != nil {
		return nil, fmt.Errorf("%w: failed to fetch file %d metadata: %v", shared.ErrAPIRequest, fileID, err)
	}
	if meta.File == "" || meta.Filename == "" {
		return nil, fmt.Errorf("%w: file %d metadata missing url or filename", shared.ErrAPIRequest, fileID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.File, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create content request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch file %d content: %v", shared.ErrAPIRequest, fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Endpoint:   meta.File,
			Curl:       shared.CurlCommand(req, nil, 0),
		}
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %d content: %w", fileID, err)
	}

	return &models.FileBlob{FileID: fileID, Filename: meta.Filename, Content: content}, nil
}

// UploadFile uploads file content as a processing input and returns the
// target-side file ID.
func (s *RetailService) UploadFile(ctx context.Context, blob *models.FileBlob) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", blob.Filename)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart form: %w", err)
	}
	if _, err := part.Write(blob.Content); err != nil {
		return "", fmt.Errorf("failed to write file content: %w", err)
	}
	if err := writer.WriteField("input_type", "image"); err != nil {
		return "", fmt.Errorf("failed to write input_type field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart form: %w", err)
	}

	var resp struct {
		ID json.Number `json:"id"`
	}
	err = s.doWithRetry(ctx, func(ctx context.Context) error {
		return s.do(ctx, http.MethodPost, "/api/v4/processing/upload/", body.Bytes(), writer.FormDataContentType(), &resp)
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to upload file %d: %v", shared.ErrAPIRequest, blob.FileID, err)
	}

	return resp.ID.String(), nil
}

// CreateScan creates a scan from the prepared payload and returns its ID.
func (s *RetailService) CreateScan(ctx context.Context, req *models.ScanCreateRequest) (models.ScanID, error) {
	body, err := json.Marshal(req.RawData)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal scan payload for %d: %w", req.SourceScan, err)
	}

	var resp struct {
		ID json.Number `json:"id"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/api/v4/processing/actions/", body, &resp); err != nil {
		return 0, fmt.Errorf("%w: failed to create scan for source %d: %v", shared.ErrAPIRequest, req.SourceScan, err)
	}

	id, err := resp.ID.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: unexpected scan id %q", shared.ErrAPIRequest, resp.ID.String())
	}

	return models.ScanID(id), nil
}

// doJSON issues a JSON request with transient-failure retries.
func (s *RetailService) doJSON(ctx context.Context, method, endpoint string, body []byte, result any) error {
	return s.doWithRetry(ctx, func(ctx context.Context) error {
		return s.do(ctx, method, endpoint, body, "application/json", result)
	})
}

// doWithRetry retries transient upstream failures with exponential backoff
// and jitter, capped per attempt. Non-retryable errors return immediately.
func (s *RetailService) doWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= transientRetries; attempt++ {
		if attempt > 0 {
			delay := transientBase << (attempt - 1)
			if delay > transientCap {
				delay = transientCap
			}
			delay += time.Duration(rand.Int63n(int64(delay) / 10))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		reqErr, ok := err.(*RequestError)
		if !ok || !reqErr.Retryable() {
			return err
		}
	}
	return lastErr
}

// do issues a single request, honoring the rate limiter and the stored token.
func (s *RetailService) do(ctx context.Context, method, endpoint string, body []byte, contentType string, result any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	apiURL := s.baseURL() + endpoint

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Token "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		curlBody := body
		if contentType != "application/json" {
			// Multipart bodies are binary; the curl line keeps only the target.
			curlBody = nil
		}
		return &RequestError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       string(raw),
			Curl:       shared.CurlCommand(req, curlBody, 2048),
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
