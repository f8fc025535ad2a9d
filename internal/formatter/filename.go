package formatter

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/desertthunder/scanx/internal/models"
)

const defaultImageExt = ".jpg"

var invalidFilenameChars = []string{"<", ">", ":", "\"", "/", "\\", "|", "?", "*"}

// SanitizeFilename replaces characters that are invalid in filenames and
// trims trailing dots and spaces.
func SanitizeFilename(name string) string {
	for _, char := range invalidFilenameChars {
		name = strings.ReplaceAll(name, char, "_")
	}
	return strings.Trim(name, ". ")
}

// ImageFilename builds the downloaded image name per the scan image
// contract: {scan_id}_{section_name}_{store_pog_id}.ext, degrading to
// {scan_id}_{section_name}.ext, {scan_id}_{store_pog_id}.ext, or
// {scan_id}.ext as optional fields are absent. The extension comes from the
// original filename, defaulting to .jpg.
func ImageFilename(scanID models.ScanID, sectionName string, storePogID int64, originalFilename string) string {
	ext := filepath.Ext(originalFilename)
	if ext == "" {
		ext = defaultImageExt
	}

	parts := []string{fmt.Sprintf("%d", scanID)}
	if sectionName != "" {
		parts = append(parts, SanitizeFilename(sectionName))
	}
	if storePogID != 0 {
		parts = append(parts, fmt.Sprintf("%d", storePogID))
	}

	return strings.Join(parts, "_") + ext
}
