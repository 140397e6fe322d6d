// Package extract turns uploaded files into plain text for ingestion.
package extract

import (
	"bytes"
	"fmt"
	"mime"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/poiesic/docqa/core"
)

// Format is a supported file format.
type Format int

const (
	FormatUnknown Format = iota
	FormatText
	FormatPDF
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatPDF:
		return "pdf"
	default:
		return "unknown"
	}
}

// Source returns the document source label for files of this format.
func (f Format) Source() string {
	if f == FormatPDF {
		return core.SourcePDF
	}
	return core.SourceTextFile
}

// TextExtensions are the extensions accepted as plain text.
var TextExtensions = []string{".txt", ".md", ".markdown"}

// Extractor returns the plain text of a named file.
type Extractor interface {
	Extract(name string, data []byte, mimeHint string) (string, error)
}

// FileExtractor handles plain text, markdown and PDF.
type FileExtractor struct{}

var _ Extractor = FileExtractor{}

// Detect picks a format from the file extension, falling back to the MIME
// hint when the extension is unknown.
func Detect(name, mimeHint string) Format {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == ".pdf":
		return FormatPDF
	case slices.Contains(TextExtensions, ext):
		return FormatText
	}

	mediaType, _, err := mime.ParseMediaType(mimeHint)
	if err != nil {
		return FormatUnknown
	}
	switch {
	case mediaType == "application/pdf":
		return FormatPDF
	case strings.HasPrefix(mediaType, "text/"):
		return FormatText
	}
	return FormatUnknown
}

// IsTextFile reports whether name has one of TextExtensions.
func IsTextFile(name string) bool {
	return slices.Contains(TextExtensions, strings.ToLower(filepath.Ext(name)))
}

// Extract returns the file's text. Unsupported formats fail with
// core.ErrUnsupportedFile. The result may be empty; callers decide what an
// empty extraction means.
func (FileExtractor) Extract(name string, data []byte, mimeHint string) (string, error) {
	switch Detect(name, mimeHint) {
	case FormatText:
		return Text(data), nil
	case FormatPDF:
		return PDF(data)
	default:
		return "", fmt.Errorf("%w: %s", core.ErrUnsupportedFile, name)
	}
}

// Text decodes data as UTF-8, dropping invalid bytes and a leading BOM.
func Text(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return strings.ToValidUTF8(string(data), "")
}

// PDF extracts each page's text and joins the pages with newlines.
func PDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("reading pdf: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("reading pdf page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}
