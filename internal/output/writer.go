// Package output writes crawl results as JSON documents or JSON lines.
package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/PentesterFlow/pagewalker/pkg/crawler"
)

// Writer defines the interface for output writers.
type Writer interface {
	// WriteResult writes the final report of a run
	WriteResult(report *Report) error

	// WritePage writes a single page (for streaming)
	WritePage(index int, page *crawler.PageResult) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Config holds output configuration.
type Config struct {
	Format   string
	Pretty   bool
	Stream   bool
	FilePath string
}

// NewWriter creates a new output writer. The jsonl format always streams
// one compact object per line.
func NewWriter(w io.Writer, config Config) Writer {
	switch config.Format {
	case "jsonl":
		return NewJSONWriter(w, false, true)
	default:
		return NewJSONWriter(w, config.Pretty, config.Stream)
	}
}

// Open creates a writer for config.FilePath, or for stdout when the path
// is empty. Parent directories are created as needed.
func Open(config Config) (Writer, error) {
	if config.FilePath == "" {
		return NewWriter(&bufferedFile{Writer: bufio.NewWriter(os.Stdout)}, config), nil
	}

	if dir := filepath.Dir(config.FilePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return NewWriter(&bufferedFile{Writer: bufio.NewWriter(f), file: f}, config), nil
}

// bufferedFile flushes before closing. It leaves stdout open.
type bufferedFile struct {
	*bufio.Writer
	file *os.File
}

func (b *bufferedFile) Close() error {
	if err := b.Writer.Flush(); err != nil {
		return err
	}
	if b.file == nil {
		return nil
	}
	return b.file.Close()
}
