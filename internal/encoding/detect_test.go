package encoding_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/encoding"
)

func decode(t *testing.T, in []byte) string {
	t.Helper()

	r, err := encoding.NewUTF8Reader(bytes.NewReader(in))
	require.NoError(t, err)

	got, err := io.ReadAll(r)
	require.NoError(t, err)

	return string(got)
}

func TestNewUTF8Reader_UTF8Passthrough(t *testing.T) {
	input := "date,amount,direction,description\n2026-01-10,12.50,out,Café Lisboa\n"
	assert.Equal(t, input, decode(t, []byte(input)))
}

func TestNewUTF8Reader_Windows1252(t *testing.T) {
	// Windows-1252 "Café": é = 0xE9.
	in := []byte{'C', 'a', 'f', 0xE9, '\n'}
	assert.Equal(t, "Café\n", decode(t, in))
}

func TestNewUTF8Reader_UTF8BOMStripped(t *testing.T) {
	in := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Café\n")...)
	assert.Equal(t, "Café\n", decode(t, in))
}

func TestNewUTF8Reader_UTF16LE(t *testing.T) {
	// UTF-16LE with BOM: "ab\n".
	in := []byte{0xFF, 0xFE, 'a', 0x00, 'b', 0x00, '\n', 0x00}
	assert.Equal(t, "ab\n", decode(t, in))
}
