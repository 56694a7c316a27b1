package gologger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolveDeterministicFallback(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	_, resolved := Resolve("meli-connect", provider, loggerOnly)
	if got := resolved.(*capturingLogger); got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	resolvedProvider, resolved := Resolve("", nil, loggerOnly)
	if got := resolved.(*capturingLogger); got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	if _, resolved = Resolve("meli-connect", nil, nil); resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestGoJobBridgeCompatibility(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	_, _, jobProvider, jobLogger := ResolveForJob("meli-connect", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job bridges")
	}

	jobProvider.GetLogger("refresh").Info("refresh enqueued", "connection_id", "conn_1")
	captured := providerLogger.lastInfo
	if captured.msg != "refresh enqueued" {
		t.Fatalf("expected bridged message, got %q", captured.msg)
	}
	if len(captured.args) < 2 || captured.args[0] != "connection_id" || captured.args[1] != "conn_1" {
		t.Fatalf("expected bridged args, got %#v", captured.args)
	}
}

func TestSlogLogger_WritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	logger.WithFields(map[string]any{"connection_id": "conn_1"}).Info("refresh succeeded", "site_id", "MCO")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v (%s)", err, buf.String())
	}
	if record["msg"] != "refresh succeeded" || record["connection_id"] != "conn_1" || record["site_id"] != "MCO" {
		t.Fatalf("unexpected record: %#v", record)
	}
}

func TestSlogLogger_LevelsAndFatal(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))
	exitCode := -1
	logger.exit = func(code int) { exitCode = code }

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("visible warn")
	logger.WithContext(context.Background()).Fatal("visible fatal")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected sub-warn records to be filtered: %s", out)
	}
	if !strings.Contains(out, "visible warn") || !strings.Contains(out, "visible fatal") {
		t.Fatalf("expected warn and fatal records: %s", out)
	}
	if exitCode != 1 {
		t.Fatalf("expected fatal to exit with 1, got %d", exitCode)
	}
}

func TestSlogProvider_NamesChildren(t *testing.T) {
	var buf bytes.Buffer
	provider := NewSlogProvider(NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	provider.GetLogger("worker").Info("started")
	if !strings.Contains(buf.String(), "logger=worker") {
		t.Fatalf("expected logger name attribute, got %s", buf.String())
	}
	if parseLevel("bogus") != slog.LevelInfo || parseLevel("ERROR") != slog.LevelError {
		t.Fatalf("unexpected level parsing")
	}
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger *capturingLogger
}

func (p *capturingProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{
		msg:  msg,
		args: append([]any(nil), args...),
	}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}
