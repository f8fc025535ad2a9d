package models

import "encoding/json"

// ScanID identifies one scan record on a retail instance.
// IDs are opaque to the copy engine; they are never parsed or interpreted.
type ScanID int64

// ScanFile is a reference to a file attached to a scan on the source instance.
type ScanFile struct {
	FileID int64  `json:"file_id"`
	Type   string `json:"file_type"`
}

// ScanInfo is the source-side metadata for one scan, as returned by the
// source instance. ProvidedValues carries the raw creation payload the scan
// was originally submitted with; the engine copies it through untouched.
type ScanInfo struct {
	ID             ScanID          `json:"id"`
	ProvidedValues json.RawMessage `json:"provided_values"`
	Files          []ScanFile      `json:"scan_files"`
	CategoryName   string          `json:"selected_category_name"`
	PogCategory    string          `json:"pog_category_name"`
	SectionName    string          `json:"section_name"`
	StorePogID     int64           `json:"store_pog_id"`
}

// FileBlob is a downloaded file: its source file ID, the original filename
// reported by the instance, and the raw content.
type FileBlob struct {
	FileID   int64
	Filename string
	Content  []byte
}

// ScanCreateRequest is the payload for creating a scan on the target instance.
// RawData is the source scan's provided values with store, files, and
// captured_at rewritten for the target.
type ScanCreateRequest struct {
	SourceScan ScanID
	RawData    map[string]any
}

// ScanMapping records one successfully copied scan.
type ScanMapping struct {
	SourceScanID ScanID `json:"source_scan_id"`
	TargetScanID ScanID `json:"target_scan_id"`
}
