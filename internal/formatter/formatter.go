// package formatter renders run results to files (CSV mapping reports, run summaries)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/desertthunder/scanx/internal/models"
)

// MappingToCSV converts a scan mapping to CSV with the Source_Scan_ID /
// Target_Scan_ID columns the downstream analysis tooling expects.
func MappingToCSV(mapping []models.ScanMapping) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"Source_Scan_ID", "Target_Scan_ID"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, m := range mapping {
		record := []string{
			strconv.FormatInt(int64(m.SourceScanID), 10),
			strconv.FormatInt(int64(m.TargetScanID), 10),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteMappingCSV writes the mapping CSV to path.
func WriteMappingCSV(mapping []models.ScanMapping, path string) error {
	data, err := MappingToCSV(mapping)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write mapping CSV: %w", err)
	}
	return nil
}

// MappingFilename returns a timestamped mapping CSV filename, matching the
// naming downstream analysis scripts glob for.
func MappingFilename(now time.Time) string {
	return fmt.Sprintf("scan_mapping_%s.csv", now.Format("20060102_150405"))
}
