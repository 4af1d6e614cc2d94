package telemetry

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	// Не должно паниковать
	m.ObserveLeaseAttempt("obtained")
	m.ObserveReminder(time.Second)
	m.ObserveLaunch("ok")
	m.ObserveCheckpoint(nil)
	m.ObserveCleanup(errors.New("boom"))
	m.ObserveRecoveredDags(3)
	m.ObserveMalformedPayload()
	m.ObserveTriggerFire(nil, time.Millisecond)
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveLeaseAttempt("obtained")
	m.ObserveLeaseAttempt("obtained")
	m.ObserveLeaseAttempt("leased_to_another")
	m.ObserveCheckpoint(errors.New("disk full"))

	if got := testutil.ToFloat64(m.leaseAttempts.WithLabelValues("obtained")); got != 2 {
		t.Errorf("expected 2 obtained attempts, got %v", got)
	}
	if got := testutil.ToFloat64(m.leaseAttempts.WithLabelValues("leased_to_another")); got != 1 {
		t.Errorf("expected 1 leased_to_another attempt, got %v", got)
	}
	if got := testutil.ToFloat64(m.checkpoints.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed checkpoint, got %v", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"ERROR": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}

	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "text")

	WithDagID(logger, "g_f_1").Info("checkpoint written")

	out := buf.String()
	if !strings.Contains(out, "dag_id=g_f_1") {
		t.Errorf("expected dag_id in output, got %q", out)
	}
}
