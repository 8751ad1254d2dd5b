package history

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/srg/vibro/internal/kv"
	"github.com/srg/vibro/internal/reading"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestCSV_ExactFormat(t *testing.T) {
	got := CSV([]reading.Reading{
		{Timestamp: 1709296215250, Value: 12},
		{Timestamp: 1709296216000, Value: 85},
	})
	assert.Equal(t, "Timestamp,Value\n2024-03-01T12:30:15.250Z,12\n2024-03-01T12:30:16.000Z,85", got,
		"CSV MUST have no trailing newline and millisecond UTC timestamps")
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteCSV(&buf, nil), ErrNoData)
	assert.Zero(t, buf.Len())
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sample))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(XLSXSheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Timestamp", "Value"},
		{"2024-03-01T12:30:15.250Z", "12"},
		{"2024-03-01T12:30:16.250Z", "85"},
		{"2024-03-01T12:30:17.250Z", "40"},
	}, rows)
}

func TestExportFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := NewKVLog(kv.NewMemory(), nil)
	require.NoError(t, l.Load(ctx))

	_, err := ExportFile(ctx, l, FormatCSV, dir)
	assert.ErrorIs(t, err, ErrNoData)
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries, "empty export MUST NOT create a file")

	for _, r := range sample {
		require.NoError(t, l.Append(ctx, r))
	}
	path, err := ExportFile(ctx, l, FormatCSV, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "vibration_history.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, CSV(sample), string(data))

	path, err = ExportFile(ctx, l, FormatXLSX, dir)
	require.NoError(t, err)
	assert.Equal(t, "vibration_history.xlsx", filepath.Base(path))
}

func TestExportFile_MissingDir(t *testing.T) {
	ctx := context.Background()
	l := NewKVLog(kv.NewMemory(), nil)
	require.NoError(t, l.Append(ctx, sample[0]))

	_, err := ExportFile(ctx, l, FormatCSV, filepath.Join(t.TempDir(), "missing"))
	var eerr *ExportError
	assert.ErrorAs(t, err, &eerr)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
	assert.Equal(t, "text/csv", FormatCSV.MIMEType())

	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}
