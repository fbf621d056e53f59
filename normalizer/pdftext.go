package normalizer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/EvnyaGH/NewsAICopy/types"
)

// Downloader fetches a remote resource; *arxiv.Client satisfies it.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// PDFExtractor stores PDFs under a temporary directory and extracts their text.
type PDFExtractor struct {
	downloader Downloader
	tmpDir     string
}

// NewPDFExtractor creates a PDFExtractor writing into tmpDir.
func NewPDFExtractor(downloader Downloader, tmpDir string) *PDFExtractor {
	return &PDFExtractor{downloader: downloader, tmpDir: tmpDir}
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Extract downloads record.PDFURL, writes it to the temp dir and returns the text.
func (e *PDFExtractor) Extract(ctx context.Context, record types.Record) (string, string, error) {
	data, err := e.downloader.Download(ctx, record.PDFURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to download pdf: %w", err)
	}

	if err := os.MkdirAll(e.tmpDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create tmp dir: %w", err)
	}
	filePath := filepath.Join(e.tmpDir, PDFFileName(record))
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write pdf: %w", err)
	}

	text, err := ExtractText(data)
	if err != nil {
		return "", filePath, err
	}
	return text, filePath, nil
}

// PDFFileName derives a filesystem-safe name such as 2401.00001v2.pdf.
func PDFFileName(record types.Record) string {
	base := path.Base(strings.TrimSuffix(record.RawID(), "/"))
	if base == "." || base == "/" || base == "" {
		base = path.Base(record.PDFURL)
	}
	base = strings.TrimSuffix(base, ".pdf")
	base = unsafeFileChars.ReplaceAllString(base, "_")
	if strings.Trim(base, "._") == "" {
		base = "paper"
	}
	return base + ".pdf"
}

// ExtractText returns the text of a PDF document, one line per text row.
func ExtractText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to create pdf reader: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("failed to get text by row on page %d: %w", i, err)
		}
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				words = append(words, word.S)
			}
			b.WriteString(strings.Join(words, " "))
			b.WriteString("\n")
		}
	}

	return strings.TrimSpace(b.String()), nil
}

// CleanupPDFs removes *.pdf files left in dir and returns how many were removed.
func CleanupPDFs(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", m, err)
		}
		removed++
	}
	return removed, nil
}
