// Package source discovers conversations in input files. CSV files carry
// one conversation per row; text and PDF files hold free-form dumps that
// are split into conversations before processing.
package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// Conversation is one unit of work: a stable identifier plus the raw
// text to clean. The identifier names the output file, so it must be
// unique within a run.
type Conversation struct {
	ID      string
	RawText string
}

// Splitter proposes conversation boundaries in a free-form dump.
type Splitter interface {
	Split(ctx context.Context, text string) []string
}

// Discoverer reads input files into conversations.
type Discoverer struct {
	splitter Splitter
	logger   *zap.Logger
}

// NewDiscoverer creates a Discoverer. splitter may be nil, in which case
// each free-form file becomes a single conversation.
func NewDiscoverer(splitter Splitter, logger *zap.Logger) *Discoverer {
	return &Discoverer{splitter: splitter, logger: logger}
}

// supported reports whether ext (lowercase, with dot) is a readable
// input format.
func supported(ext string) bool {
	switch ext {
	case ".csv", ".txt", ".pdf":
		return true
	}
	return false
}

// Discover reads path, which may be a file or a directory, and returns
// the conversations it holds in deterministic order. Unsupported files
// inside a directory are skipped with a log line; an unsupported file
// given directly is an error.
func (d *Discoverer) Discover(ctx context.Context, path string) ([]Conversation, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat input %s: %w", path, err)
	}
	if !info.IsDir() {
		return d.discoverFile(ctx, path, false)
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if supported(strings.ToLower(filepath.Ext(p))) {
			files = append(files, p)
		} else {
			d.logger.Debug("skipping unsupported file", zap.String("path", p))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk input dir %s: %w", path, err)
	}
	sort.Strings(files)

	var conversations []Conversation
	for _, f := range files {
		convs, err := d.discoverFile(ctx, f, true)
		if err != nil {
			// One bad file must not sink the directory.
			d.logger.Warn("skipping unreadable file", zap.String("path", f), zap.Error(err))
			continue
		}
		conversations = append(conversations, convs...)
	}
	return conversations, nil
}

func (d *Discoverer) discoverFile(ctx context.Context, path string, inDir bool) ([]Conversation, error) {
	ext := strings.ToLower(filepath.Ext(path))
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	switch ext {
	case ".csv":
		return d.fromCSV(path, stem)
	case ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return d.fromDump(ctx, stem, string(data)), nil
	case ".pdf":
		text, err := pdfText(path)
		if err != nil {
			return nil, fmt.Errorf("extract pdf text from %s: %w", path, err)
		}
		return d.fromDump(ctx, stem, text), nil
	}
	if inDir {
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported input format %q", ext)
}

// fromCSV reads one conversation per data row. The header row is
// dropped, and a row's cells are joined with newlines so multi-column
// exports keep all their text.
func (d *Discoverer) fromCSV(path, stem string) ([]Conversation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", path, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	var conversations []Conversation
	for i, row := range rows[1:] {
		text := strings.TrimSpace(strings.Join(row, "\n"))
		if text == "" {
			continue
		}
		conversations = append(conversations, Conversation{
			ID:      fmt.Sprintf("%s_row%d", stem, i+1),
			RawText: text,
		})
	}
	return conversations, nil
}

// fromDump turns a free-form text dump into one conversation per
// detected segment.
func (d *Discoverer) fromDump(ctx context.Context, stem, text string) []Conversation {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	segments := []string{trimmed}
	if d.splitter != nil {
		segments = d.splitter.Split(ctx, trimmed)
	}

	if len(segments) == 1 {
		return []Conversation{{ID: stem, RawText: segments[0]}}
	}
	conversations := make([]Conversation, 0, len(segments))
	for i, seg := range segments {
		conversations = append(conversations, Conversation{
			ID:      fmt.Sprintf("%s_conv%d", stem, i+1),
			RawText: seg,
		})
	}
	return conversations
}

// pdfText extracts the plain text of every page in order.
func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", err
	}
	return buf.String(), nil
}
