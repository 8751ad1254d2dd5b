package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/srg/vibro/internal/reading"
	"github.com/xuri/excelize/v2"
)

// ErrNoData is returned when exporting an empty history.
var ErrNoData = errors.New("there is no history data to export")

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat converts a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unknown export format %q (expected %q or %q)", s, FormatCSV, FormatXLSX)
	}
}

// FileName is the conventional export file name.
func (f Format) FileName() string {
	return "vibration_history." + string(f)
}

// MIMEType is the media type of the export.
func (f Format) MIMEType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// ExportError wraps an I/O failure during export.
type ExportError struct {
	Err error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export failed: could not export data: %v", e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

const (
	csvHeader = "Timestamp,Value"
	// TimestampLayout is ISO-8601 UTC with millisecond precision.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
	// XLSXSheet is the worksheet holding exported rows.
	XLSXSheet = "History"
)

// FormatTimestamp renders an epoch-ms timestamp the way exports do.
func FormatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(TimestampLayout)
}

// CSV renders readings as a header line followed by one line per reading,
// joined with "\n" and without a trailing newline.
func CSV(rs []reading.Reading) string {
	var b strings.Builder
	b.WriteString(csvHeader)
	for _, r := range rs {
		b.WriteByte('\n')
		b.WriteString(FormatTimestamp(r.Timestamp))
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(r.Value))
	}
	return b.String()
}

// WriteCSV writes CSV(rs) to w.
func WriteCSV(w io.Writer, rs []reading.Reading) error {
	if len(rs) == 0 {
		return ErrNoData
	}
	if _, err := io.WriteString(w, CSV(rs)); err != nil {
		return &ExportError{Err: err}
	}
	return nil
}

// WriteXLSX writes a workbook with the same two columns as the CSV export.
func WriteXLSX(w io.Writer, rs []reading.Reading) error {
	if len(rs) == 0 {
		return ErrNoData
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", XLSXSheet); err != nil {
		return &ExportError{Err: err}
	}
	if err := f.SetSheetRow(XLSXSheet, "A1", &[]any{"Timestamp", "Value"}); err != nil {
		return &ExportError{Err: err}
	}
	for i, r := range rs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return &ExportError{Err: err}
		}
		if err := f.SetSheetRow(XLSXSheet, cell, &[]any{FormatTimestamp(r.Timestamp), r.Value}); err != nil {
			return &ExportError{Err: err}
		}
	}
	if err := f.SetColWidth(XLSXSheet, "A", "A", 26); err != nil {
		return &ExportError{Err: err}
	}
	if err := f.SetPanes(XLSXSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return &ExportError{Err: err}
	}

	if _, err := f.WriteTo(w); err != nil {
		return &ExportError{Err: err}
	}
	return nil
}

// Export writes the whole history of s to w in format f.
func Export(ctx context.Context, s Store, f Format, w io.Writer) error {
	rs, err := s.All(ctx)
	if err != nil {
		return &ExportError{Err: err}
	}
	switch f {
	case FormatCSV:
		return WriteCSV(w, rs)
	case FormatXLSX:
		return WriteXLSX(w, rs)
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

// ExportFile writes the export into dir under f.FileName() and returns its path.
// Nothing is created when the history is empty.
func ExportFile(ctx context.Context, s Store, f Format, dir string) (string, error) {
	rs, err := s.All(ctx)
	if err != nil {
		return "", &ExportError{Err: err}
	}
	if len(rs) == 0 {
		return "", ErrNoData
	}

	path := filepath.Join(dir, f.FileName())
	tmp, err := os.CreateTemp(dir, ".vibro-export-*")
	if err != nil {
		return "", &ExportError{Err: err}
	}
	defer os.Remove(tmp.Name())

	switch f {
	case FormatXLSX:
		err = WriteXLSX(tmp, rs)
	default:
		err = WriteCSV(tmp, rs)
	}
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = &ExportError{Err: cerr}
	}
	if err != nil {
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", &ExportError{Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", &ExportError{Err: err}
	}
	return path, nil
}
