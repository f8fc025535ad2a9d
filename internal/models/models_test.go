package models

import (
	"encoding/json"
	"testing"
)

func TestCheckpoint(t *testing.T) {
	t.Run("MarkCompleted accumulates", func(t *testing.T) {
		cp := NewCheckpoint()

		cp.MarkCompleted(1, []ScanMapping{{SourceScanID: 1, TargetScanID: 10}}, 0)
		cp.MarkCompleted(2, []ScanMapping{{SourceScanID: 2, TargetScanID: 20}}, 3)

		if !cp.IsCompleted(1) || !cp.IsCompleted(2) {
			t.Errorf("completedBatches = %v, want 1 and 2", cp.CompletedBatches)
		}
		if cp.IsCompleted(3) {
			t.Error("batch 3 should not be completed")
		}
		if len(cp.Mapping) != 2 {
			t.Errorf("mapping size = %d, want 2", len(cp.Mapping))
		}
		if cp.FailedScans != 3 {
			t.Errorf("failedScans = %d, want 3", cp.FailedScans)
		}
	})

	t.Run("MarkCompleted twice does not duplicate the batch", func(t *testing.T) {
		cp := NewCheckpoint()
		cp.MarkCompleted(1, nil, 0)
		cp.MarkCompleted(1, nil, 0)

		if len(cp.CompletedBatches) != 1 {
			t.Errorf("completedBatches = %v, want single entry", cp.CompletedBatches)
		}
	})

	t.Run("NextBatch", func(t *testing.T) {
		cp := NewCheckpoint()
		cp.MarkCompleted(1, nil, 0)
		cp.MarkCompleted(3, nil, 0)

		if next := cp.NextBatch(4); next != 2 {
			t.Errorf("NextBatch(4) = %d, want 2", next)
		}

		cp.MarkCompleted(2, nil, 0)
		cp.MarkCompleted(4, nil, 0)
		if next := cp.NextBatch(4); next != 0 {
			t.Errorf("NextBatch(4) after all done = %d, want 0", next)
		}
	})

	t.Run("JSON schema", func(t *testing.T) {
		cp := NewCheckpoint()
		cp.MarkCompleted(1, []ScanMapping{{SourceScanID: 5, TargetScanID: 50}}, 2)

		data, err := json.Marshal(cp)
		if err != nil {
			t.Fatalf("marshal error = %v", err)
		}

		var decoded map[string]json.RawMessage
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal error = %v", err)
		}
		for _, key := range []string{"completed_batches", "scan_mapping", "failed_scans"} {
			if _, ok := decoded[key]; !ok {
				t.Errorf("serialized checkpoint missing %q", key)
			}
		}
	})
}

func TestStageResult_SuccessRate(t *testing.T) {
	tests := []struct {
		name      string
		attempted int
		succeeded int
		want      float64
	}{
		{name: "all succeeded", attempted: 10, succeeded: 10, want: 1.0},
		{name: "partial", attempted: 10, succeeded: 7, want: 0.7},
		{name: "none succeeded", attempted: 4, succeeded: 0, want: 0.0},
		{name: "nothing attempted is vacuously perfect", attempted: 0, succeeded: 0, want: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StageResult{Attempted: tt.attempted, Succeeded: tt.succeeded}
			if got := result.SuccessRate(); got != tt.want {
				t.Errorf("SuccessRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBatchState_Terminal(t *testing.T) {
	terminal := map[BatchState]bool{
		BatchCompleted:       true,
		BatchPartiallyFailed: true,
	}

	for _, state := range []BatchState{
		BatchPending, BatchDownloading, BatchUploading, BatchCreating,
		BatchEvaluating, BatchRetrying, BatchCompleted, BatchPartiallyFailed,
	} {
		if state.Terminal() != terminal[state] {
			t.Errorf("%s.Terminal() = %v, want %v", state, state.Terminal(), terminal[state])
		}
	}
}

func TestScanInfo_Unmarshal(t *testing.T) {
	payload := `{
		"id": 123,
		"provided_values": {"_raw_data": {"store": 1}},
		"scan_files": [{"file_id": 9, "file_type": "image"}],
		"selected_category_name": "Beverages",
		"pog_category_name": "Soda",
		"section_name": "Aisle 4",
		"store_pog_id": 77
	}`

	var info ScanInfo
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}

	if info.ID != 123 || info.CategoryName != "Beverages" || info.PogCategory != "Soda" {
		t.Errorf("info = %+v", info)
	}
	if info.SectionName != "Aisle 4" || info.StorePogID != 77 {
		t.Errorf("section/storepog = %s/%d, want Aisle 4/77", info.SectionName, info.StorePogID)
	}
	if len(info.Files) != 1 || info.Files[0].FileID != 9 || info.Files[0].Type != "image" {
		t.Errorf("files = %+v", info.Files)
	}
	if len(info.ProvidedValues) == 0 {
		t.Error("provided values should pass through as raw JSON")
	}
}
