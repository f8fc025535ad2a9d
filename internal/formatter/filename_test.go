package formatter

import (
	"testing"

	"github.com/desertthunder/scanx/internal/models"
)

func TestImageFilename(t *testing.T) {
	tests := []struct {
		name     string
		scanID   int64
		section  string
		storePog int64
		original string
		want     string
	}{
		{
			name:     "all fields present",
			scanID:   123,
			section:  "Aisle 4",
			storePog: 77,
			original: "photo.png",
			want:     "123_Aisle 4_77.png",
		},
		{
			name:     "missing store pog",
			scanID:   123,
			section:  "Aisle 4",
			original: "photo.png",
			want:     "123_Aisle 4.png",
		},
		{
			name:     "missing section",
			scanID:   123,
			storePog: 77,
			original: "photo.png",
			want:     "123_77.png",
		},
		{
			name:     "scan ID only",
			scanID:   123,
			original: "photo.png",
			want:     "123.png",
		},
		{
			name:     "no extension defaults to jpg",
			scanID:   123,
			original: "photo",
			want:     "123.jpg",
		},
		{
			name:     "section with invalid characters",
			scanID:   5,
			section:  "Dairy/Frozen: left",
			storePog: 9,
			original: "x.jpeg",
			want:     "5_Dairy_Frozen_ left_9.jpeg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ImageFilename(models.ScanID(tt.scanID), tt.section, tt.storePog, tt.original)
			if got != tt.want {
				t.Errorf("ImageFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "a/b\\c", want: "a_b_c"},
		{in: "trailing. ", want: "trailing"},
		{in: "<>:\"|?*", want: "_______"},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
