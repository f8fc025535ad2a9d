// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/desertthunder/scanx/internal/models"
)

// MockSource is a test double for [services.SourceService]
type MockSource struct{}

func (m *MockSource) Authenticate(ctx context.Context) error { return nil }

func (m *MockSource) GetScanInfo(ctx context.Context, ids []models.ScanID) ([]models.ScanInfo, error) {
	infos := make([]models.ScanInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, models.ScanInfo{ID: id})
	}
	return infos, nil
}

func (m *MockSource) DownloadFile(ctx context.Context, fileID int64) (*models.FileBlob, error) {
	return &models.FileBlob{FileID: fileID, Filename: fmt.Sprintf("%d.jpg", fileID)}, nil
}

func (m *MockSource) Name() string { return "mock-source" }

// MockTarget is a test double for [services.TargetService]
type MockTarget struct{}

func (m *MockTarget) Authenticate(ctx context.Context) error { return nil }

func (m *MockTarget) UploadFile(ctx context.Context, blob *models.FileBlob) (string, error) {
	return fmt.Sprintf("upload-%d", blob.FileID), nil
}

func (m *MockTarget) CreateScan(ctx context.Context, req *models.ScanCreateRequest) (models.ScanID, error) {
	return req.SourceScan + 100000, nil
}

func (m *MockTarget) Name() string { return "mock-target" }

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// SequenceRoundTripper returns queued responses in order, repeating the last
// one once the queue drains.
type SequenceRoundTripper struct {
	responses []*http.Response
	calls     int
}

func NewSequenceRoundTripper(responses ...*http.Response) *SequenceRoundTripper {
	return &SequenceRoundTripper{responses: responses}
}

func (s *SequenceRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	return s.responses[i], nil
}

func (s *SequenceRoundTripper) Calls() int { return s.calls }

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
