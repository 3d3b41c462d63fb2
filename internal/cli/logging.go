package cli

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"

	"github.com/roach88/rostersync/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// parseLevel maps a config level name onto slog. Unknown names are info.
func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the process logger: text on stderr, plus a daily rotated
// file when cfg.File is set. The returned closer releases the file.
func newLogger(cfg config.Log, verbose bool, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}

	out := stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rl, err := rotatelogs.New(
			rotatePattern(cfg.File),
			rotatelogs.WithLinkName(cfg.File),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithMaxAge(cfg.MaxAge.Duration()),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(stderr, rl)
		closer = rl
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closer, nil
}

// rotatePattern turns "logs/rostersync.log" into
// "logs/rostersync.%Y%m%d.log". Paths that already carry a strftime verb
// are used unchanged.
func rotatePattern(path string) string {
	if strings.Contains(path, "%") {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".%Y%m%d" + ext
}
