// Package export renders aggregate views as PDF or DOCX reports.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case FormatPDF, FormatDOCX:
		return Format(value), nil
	case "":
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request names the view to export.
type Request struct {
	WorkspaceID string
	OrgID       string
	View        string
	Format      Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("export format not supported")
	// ErrUnsupportedView is returned for views that have no tabular sections.
	ErrUnsupportedView = errors.New("view cannot be exported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
