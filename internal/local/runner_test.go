package local

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
)

func writeReport(t *testing.T, fs afero.Fs, path string, bundles ...report.BundleInput) {
	t.Helper()
	data, err := report.Encode(bundles)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, data, 0644))
}

func single(name string, size int64) report.BundleInput {
	return report.BundleInput{Name: name, Assets: []report.AssetInput{{Name: name + ".js", Size: size}}}
}

func TestRunner_Run(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T, fs afero.Fs)
		format      string
		contains    []string
		expectError bool
		errorMsg    string
	}{
		{
			name: "comparison",
			setup: func(t *testing.T, fs afero.Fs) {
				writeReport(t, fs, "base.sqlite", single("app", 100000))
				writeReport(t, fs, "head.sqlite", single("app", 120000), single("vendor", 50000))
			},
			format:   "Text",
			contains: []string{"app (modified)", "vendor (added)", "Summary: size +70kB (total 170kB)"},
		},
		{
			name: "missing base file",
			setup: func(t *testing.T, fs afero.Fs) {
				writeReport(t, fs, "head.sqlite", single("app", 1))
			},
			format:   "Text",
			contains: []string{"no_base_report"},
		},
		{
			name: "corrupt head file",
			setup: func(t *testing.T, fs afero.Fs) {
				writeReport(t, fs, "base.sqlite", single("app", 1))
				require.NoError(t, afero.WriteFile(fs, "head.sqlite", []byte("garbage"), 0644))
			},
			format:   "Markdown",
			contains: []string{"The bundle analysis report for the head commit could not be read."},
		},
		{
			name: "path is a directory",
			setup: func(t *testing.T, fs afero.Fs) {
				require.NoError(t, fs.MkdirAll("base.sqlite", 0755))
			},
			format:      "Text",
			expectError: true,
			errorMsg:    "is a directory",
		},
		{
			name:        "unknown format",
			setup:       func(t *testing.T, fs afero.Fs) {},
			format:      "XML",
			expectError: true,
			errorMsg:    "unknown format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			tt.setup(t, fs)

			var buf bytes.Buffer
			r := NewRunner(Config{
				BasePath:   "base.sqlite",
				HeadPath:   "head.sqlite",
				Format:     tt.format,
				Throughput: 40000,
			}, WithFs(fs), WithOutput(&buf))

			err := r.Run(context.Background())
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}

func TestRunner_InvalidThroughput(t *testing.T) {
	r := NewRunner(Config{BasePath: "a", HeadPath: "b", Format: "JSON", Throughput: -1}, WithFs(afero.NewMemMapFs()))
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throughput must be positive")
}
