package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedSplitter struct {
	segments []string
}

func (f *fixedSplitter) Split(context.Context, string) []string {
	return f.segments
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDiscoverCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "export.csv",
		"conversation,notes\n"+
			"\"A: hi\nB: hello\",first\n"+
			"\"C: morning\",second\n")

	d := NewDiscoverer(nil, zap.NewNop())
	convs, err := d.Discover(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	assert.Equal(t, "export_row1", convs[0].ID)
	assert.Equal(t, "A: hi\nB: hello\nfirst", convs[0].RawText)
	assert.Equal(t, "export_row2", convs[1].ID)
	assert.Equal(t, "C: morning\nsecond", convs[1].RawText)
}

func TestDiscoverCSVHeaderOnly(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty.csv", "conversation\n")

	d := NewDiscoverer(nil, zap.NewNop())
	convs, err := d.Discover(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestDiscoverCSVSkipsBlankRows(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "gaps.csv", "conversation\n\"A: hi\"\n\"  \"\n\"B: yo\"\n")

	d := NewDiscoverer(nil, zap.NewNop())
	convs, err := d.Discover(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "gaps_row1", convs[0].ID)
	assert.Equal(t, "gaps_row3", convs[1].ID)
}

func TestDiscoverTxtSingleConversation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "dump.txt", "  A: hi\nB: hello\n")

	d := NewDiscoverer(nil, zap.NewNop())
	convs, err := d.Discover(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "dump", convs[0].ID)
	assert.Equal(t, "A: hi\nB: hello", convs[0].RawText)
}

func TestDiscoverTxtSplitsIntoConversations(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "dump.txt", "A: hi\nC: new topic\n")

	d := NewDiscoverer(&fixedSplitter{segments: []string{"A: hi", "C: new topic"}}, zap.NewNop())
	convs, err := d.Discover(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "dump_conv1", convs[0].ID)
	assert.Equal(t, "A: hi", convs[0].RawText)
	assert.Equal(t, "dump_conv2", convs[1].ID)
}

func TestDiscoverDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "B: later\n")
	writeFile(t, dir, "a.csv", "conversation\n\"A: first\"\n")
	writeFile(t, dir, "notes.md", "ignore me")

	d := NewDiscoverer(nil, zap.NewNop())
	convs, err := d.Discover(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	// Deterministic order: sorted by path.
	assert.Equal(t, "a_row1", convs[0].ID)
	assert.Equal(t, "b", convs[1].ID)
}

func TestDiscoverUnsupportedFileIsError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.xlsx", "not really a spreadsheet")

	d := NewDiscoverer(nil, zap.NewNop())
	_, err := d.Discover(context.Background(), path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported"))
}

func TestDiscoverMissingPath(t *testing.T) {
	d := NewDiscoverer(nil, zap.NewNop())
	_, err := d.Discover(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
}
