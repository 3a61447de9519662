package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"report.csv", "report.csv", false},
		{"../../etc/passwd", "passwd", false},
		{"..\\..\\secrets.txt", "secrets.txt", false},
		{"my report (final).md", "my_report__final_.md", false},
		{"...", "", true},
		{"", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := SanitizeFilename(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
