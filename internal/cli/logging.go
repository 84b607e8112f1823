package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/term"
)

// newLogger picks a text handler for terminals and JSON otherwise.
func newLogger(w io.Writer, ro *RootOpts) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(ro.LogLevel))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", ro.LogLevel, err)
	}
	if ro.Verbose {
		level = slog.LevelDebug
	}
	if ro.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if ro.JSONOut || !isTerminal(w) {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
