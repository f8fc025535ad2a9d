package services

import (
	"context"
	"fmt"

	"github.com/desertthunder/scanx/internal/models"
)

// SourceService reads scan records and files from the source instance.
type SourceService interface {
	// Authenticate obtains an API token for subsequent requests.
	Authenticate(ctx context.Context) error

	// GetScanInfo retrieves metadata and file references for the given scans.
	GetScanInfo(ctx context.Context, ids []models.ScanID) ([]models.ScanInfo, error)

	// DownloadFile fetches one file's metadata and content.
	DownloadFile(ctx context.Context, fileID int64) (*models.FileBlob, error)

	// Name returns the instance name (e.g., "albt").
	Name() string
}

// TargetService writes files and scan records to the target instance.
type TargetService interface {
	// Authenticate obtains an API token for subsequent requests.
	Authenticate(ctx context.Context) error

	// UploadFile uploads file content and returns the target-side file ID.
	UploadFile(ctx context.Context, blob *models.FileBlob) (string, error)

	// CreateScan creates a scan from the prepared payload and returns its ID.
	CreateScan(ctx context.Context, req *models.ScanCreateRequest) (models.ScanID, error)

	// Name returns the instance name (e.g., "stgalbt").
	Name() string
}

// RequestError is a non-retryable API failure with enough context to
// reproduce and debug the request. Curl is a redacted cURL rendition of the
// failing request.
type RequestError struct {
	StatusCode int
	Endpoint   string
	Body       string
	Curl       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Retryable reports whether the failure is transient (upstream gateway
// errors) and worth retrying at the client level.
func (e *RequestError) Retryable() bool {
	return e.StatusCode == 502 || e.StatusCode == 503
}
