// Package diagnostics provides the archive for frames that failed validation.
package diagnostics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotragit/Hi-Therma/internal/hnet"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FileArchiver appends rejected frames to a plain-text log, one line per
// frame: "<timestamp> - <reason>: <hex bytes>". The file is the input to
// offline protocol analysis, so the line format is load-bearing.
type FileArchiver struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewFileArchiver creates an archiver writing to path, creating the parent
// directory if needed.
func NewFileArchiver(path string) (*FileArchiver, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	return &FileArchiver{
		path:   path,
		logger: log.With().Str("component", "diagnostics").Logger(),
	}, nil
}

// Archive appends one frame with its rejection reason.
func (a *FileArchiver) Archive(frame []byte, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s - %s: %s\n", time.Now().Format(time.RFC3339), reason, hnet.Frame(frame).Hex())
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to write archive entry: %w", err)
	}

	a.logger.Debug().Str("reason", reason).Int("length", len(frame)).Msg("Frame archived")
	return nil
}
