package adcp

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogWriters_Enable(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(&buf, &buf, &buf)
	defer SetLogWriters(nil, nil, nil)

	if opsLogger == nil || diagLogger == nil || traceLogger == nil {
		t.Fatal("loggers should be non-nil after SetLogWriters with writers")
	}
}

func TestSetLogWriters_Disable(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(&buf, nil, nil)
	SetLogWriters(nil, nil, nil)

	if opsLogger != nil {
		t.Fatal("opsLogger should be nil after SetLogWriters(nil, nil, nil)")
	}
}

func TestOpsf_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(&buf, nil, nil)
	defer SetLogWriters(nil, nil, nil)

	opsf("missed ensemble %d", 42)

	output := buf.String()
	if !strings.Contains(output, "missed ensemble 42") {
		t.Errorf("expected output to contain 'missed ensemble 42', got %q", output)
	}
	if !strings.Contains(output, "[adcp]") {
		t.Errorf("expected output to contain '[adcp]' prefix, got %q", output)
	}
}

func TestLoggers_NilAreSilent(t *testing.T) {
	SetLogWriters(nil, nil, nil)

	// Should not panic when no logger is configured.
	opsf("discarded %d", 1)
	diagf("discarded %d", 2)
	tracef("discarded %d", 3)
}

func TestStreamsAreIndependent(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	SetLogWriters(&ops, &diag, &trace)
	defer SetLogWriters(nil, nil, nil)

	diagf("schedule %s", "decision")
	tracef("rx %q", "WP0060\r\n")

	if ops.Len() != 0 {
		t.Errorf("expected ops to stay empty, got %q", ops.String())
	}
	if !strings.Contains(diag.String(), "schedule decision") {
		t.Errorf("diag = %q", diag.String())
	}
	if !strings.Contains(trace.String(), `rx "WP0060\r\n"`) {
		t.Errorf("trace = %q", trace.String())
	}
}
