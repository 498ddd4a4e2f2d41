package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendBuildsValidChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	w, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := w.Append("run-1", int64(i), "orders", "OrderIntent", map[string]any{"i": i})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	result, err := Verify(path)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 5, result.Lines)
}

func TestVerifyFindsFirstTamperedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	w, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := w.Append("run-1", int64(i), "orders", "OrderIntent", map[string]any{"i": i})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := splitLines(data)
	require.Len(t, lines, 5)
	lines[2] = flipByte(lines[2])
	require.NoError(t, os.WriteFile(path, joinLines(lines), 0o644))

	result, err := Verify(path)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, 3, result.BreakIndex) // 1-based: the tampered 3rd line
}

func TestReopenContinuesChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	w1, err := Open(path)
	require.NoError(t, err)
	_, err = w1.Append("run-1", 0, "orders", "OrderIntent", map[string]any{"i": 0})
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	_, err = w2.Append("run-1", 1, "orders", "OrderIntent", map[string]any{"i": 1})
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	result, err := Verify(path)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.Lines)
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			out = append(out, data[start:i])
			start = i + 1
		}
	}
	return out
}

func joinLines(lines [][]byte) []byte {
	var out []byte
	for _, l := range lines {
		out = append(out, l...)
		out = append(out, '\n')
	}
	return out
}

func flipByte(line []byte) []byte {
	out := make([]byte, len(line))
	copy(out, line)
	for i := range out {
		if out[i] == '0' {
			out[i] = '9'
			return out
		}
	}
	return out
}
