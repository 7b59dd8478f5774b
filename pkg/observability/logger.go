package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Mindburn-Labs/nondominium/pkg/privacy"
)

// NewLogger builds a slog logger. format is "json" or "text"; level is one
// of DEBUG, INFO, WARN or ERROR.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl, ReplaceAttr: redactAttr}

	switch strings.ToLower(format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// redactAttr keeps private values out of log lines: attributes named after a
// private field are withheld and string values have emails scrubbed.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if privacy.IsPrivateKey(a.Key) {
		return slog.String(a.Key, privacy.Withheld)
	}
	if a.Value.Kind() == slog.KindString {
		a.Value = slog.StringValue(privacy.ScrubEmails(a.Value.String()))
	}
	return a
}
