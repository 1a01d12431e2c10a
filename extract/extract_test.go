package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_PlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.txt")
	require.NoError(t, os.WriteFile(path, []byte("\xef\xbb\xbfOlá, mundo."), 0o644))

	text, err := New("").Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Olá, mundo.", text)
}

func TestExtract_LegacyEncoding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.txt")
	// "ação" in Windows-1252.
	require.NoError(t, os.WriteFile(path, []byte{'a', 0xe7, 0xe3, 'o'}, 0o644))

	text, err := New("").Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "ação", text)
}

func TestExtract_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := New("").Extract(context.Background(), filepath.Join(dir, "book.epub"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = New("").Extract(context.Background(), filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	pdf := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))
	_, err = New("no-such-pdftotext-binary").Extract(context.Background(), pdf)
	assert.ErrorIs(t, err, ErrToolMissing)
}

func TestExtract_AccessDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o000))

	_, err := New("").Extract(context.Background(), path)
	assert.ErrorIs(t, err, ErrAccessDenied)
}
