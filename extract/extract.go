// Package extract reads the raw text of documents handed to the converter.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"ttsforge/logx"
)

var (
	ErrUnsupportedFormat = errors.New("extract: unsupported document format")
	ErrToolMissing       = errors.New("extract: required tool is not installed")
	ErrAccessDenied      = errors.New("extract: access denied")
)

// Extractor reads plain text files directly and PDFs through pdftotext.
type Extractor struct {
	pdftotext string
}

// New returns an extractor that uses the given pdftotext binary.
func New(pdftotextBin string) *Extractor {
	if pdftotextBin == "" {
		pdftotextBin = "pdftotext"
	}
	return &Extractor{pdftotext: pdftotextBin}
}

// Extract returns the text of the document at path.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text", ".md":
		return e.readText(path)
	case ".pdf":
		return e.readPDF(ctx, path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func (e *Extractor) readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fileError(err)
	}
	return decode(data), nil
}

func (e *Extractor) readPDF(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fileError(err)
	}
	bin, err := exec.LookPath(e.pdftotext)
	if err != nil {
		return "", fmt.Errorf("%w: %s (install poppler-utils)", ErrToolMissing, e.pdftotext)
	}

	cmd := exec.CommandContext(ctx, bin, "-layout", "-enc", "UTF-8", path, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(strings.ToLower(msg), "permission") {
			return "", fmt.Errorf("%w: %s", ErrAccessDenied, msg)
		}
		return "", fmt.Errorf("pdftotext %s: %w: %s", path, err, msg)
	}
	lg := logx.FromCtx(ctx)
	lg.Debug().Str("path", path).Int("bytes", stdout.Len()).Msg("pdf text extracted")
	return decode(stdout.Bytes()), nil
}

// decode returns data as UTF-8. Anything that is not valid UTF-8 is read as
// Windows-1252, the usual encoding of legacy text files.
func decode(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "")
	}
	return string(out)
}

func fileError(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return err
}
