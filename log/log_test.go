package log_test

import (
	"bytes"
	"errors"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/coherent"
	lrs "github.com/unkn0wn-root/coherent/log/logrus"
	cslog "github.com/unkn0wn-root/coherent/log/slog"
	czap "github.com/unkn0wn-root/coherent/log/zap"
)

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	var l coherent.Logger = czap.ZapLogger{L: zap.New(core)}

	l.Warn("coherence channel lost", coherent.Fields{"map": "users", "err": errors.New("eof")})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["map"] != "users" || ctx["err"] != "eof" {
		t.Fatalf("unexpected fields: %v", ctx)
	}
}

func TestLogrusAdapter(t *testing.T) {
	var buf bytes.Buffer
	lg := logrus.New()
	lg.SetOutput(&buf)
	lg.SetLevel(logrus.DebugLevel)
	var l coherent.Logger = lrs.LogrusLogger{E: logrus.NewEntry(lg)}

	l.Info("local cache flushed", coherent.Fields{"entries": 3})
	if out := buf.String(); !strings.Contains(out, "local cache flushed") || !strings.Contains(out, "entries=3") {
		t.Fatalf("unexpected output: %q", out)
	}

	buf.Reset()
	l.Warn("resubscribe failed", coherent.Fields{"err": errors.New("refused")})
	if out := buf.String(); !strings.Contains(out, "error=refused") {
		t.Fatalf("err field should use logrus.ErrorKey: %q", out)
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	var l coherent.Logger = cslog.Logger{L: stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelDebug}))}

	l.Debug("coherent map ready", coherent.Fields{"sync": "update", "map": "users", "err": errors.New("x")})
	if out := buf.String(); !strings.Contains(out, "err=x map=users sync=update") {
		t.Fatalf("fields should be sorted by key: %q", out)
	}
}
