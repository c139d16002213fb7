//go:build go1.21

package slog

import (
	"bytes"
	"errors"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/optcache"
)

func newBuffered(lvl stdslog.Level) (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a stdslog.Attr) stdslog.Attr {
			if a.Key == stdslog.TimeKey {
				return stdslog.Attr{}
			}
			return a
		},
	})
	return New(stdslog.New(h)), &buf
}

func TestSlogLoggerFieldsAreOrdered(t *testing.T) {
	l, buf := newBuffered(stdslog.LevelDebug)

	l.Warn("mutation rolled back", optcache.Fields{
		"phase":  "awaiting-server",
		"kind":   "transaction.create",
		"err":    errors.New("timeout"),
		"ns":     optcache.NS("accounts"),
		"amount": 50,
	})

	got := strings.TrimSpace(buf.String())
	want := `level=WARN msg="mutation rolled back" component=optcache amount=50 err=timeout kind=transaction.create ns=accounts phase=awaiting-server`
	if got != want {
		t.Fatalf("record mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestSlogLoggerSkipsDisabledLevels(t *testing.T) {
	l, buf := newBuffered(stdslog.LevelWarn)

	l.Debug("write skipped (seq mismatch)", optcache.Fields{"ns": "accounts"})
	l.Info("mutation settled", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %q", buf.String())
	}
	l.Error("mutation violated a cache invariant", nil)
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Fatalf("error record missing: %q", buf.String())
	}
}
