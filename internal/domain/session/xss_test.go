package session

import (
	"strings"
	"testing"
)

func TestNewMarker(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		m := NewMarker()
		if !markerRe.MatchString(m) {
			t.Fatalf("marker %q does not match the expected shape", m)
		}
		if !strings.HasPrefix(m, "XSS_MARKER_") {
			t.Fatalf("marker %q missing prefix", m)
		}
		if seen[m] {
			t.Fatalf("marker %q repeated", m)
		}
		seen[m] = true
	}
}

func TestSeedPayloads(t *testing.T) {
	t.Parallel()

	marker := NewMarker()
	payloads := SeedPayloads(marker)
	if len(payloads) != 7 {
		t.Fatalf("expected 7 seed payloads, got %d", len(payloads))
	}

	types := make(map[PayloadType]bool)
	contexts := make(map[PayloadContext]bool)
	for _, p := range payloads {
		if !strings.Contains(p.Body, marker) {
			t.Fatalf("payload %q does not embed the marker", p.Body)
		}
		types[p.Type] = true
		contexts[p.Context] = true
	}

	for _, want := range []PayloadType{
		PayloadScript, PayloadImg, PayloadSvg,
		PayloadEvent, PayloadJavascriptURI, PayloadAttributeBreak,
	} {
		if !types[want] {
			t.Fatalf("seed set missing payload type %s", want)
		}
	}
	for _, want := range []PayloadContext{ContextHTML, ContextAttribute, ContextURL} {
		if !contexts[want] {
			t.Fatalf("seed set missing context %s", want)
		}
	}
}

func TestXSSReportRecord(t *testing.T) {
	t.Parallel()

	var r XSSReport
	if r.Vulnerable() {
		t.Fatal("empty report must not be vulnerable")
	}

	r.record(Payload{Body: "a"}, OutcomeExecuted)
	r.record(Payload{Body: "b"}, OutcomeReflected)
	r.record(Payload{Body: "c"}, OutcomeAttributeInjection)
	r.record(Payload{Body: "d"}, OutcomeNotReflected)

	if len(r.Executed) != 1 || r.Executed[0] != "a" {
		t.Fatalf("unexpected executed %v", r.Executed)
	}
	if len(r.Reflected) != 1 || r.Reflected[0] != "b" {
		t.Fatalf("unexpected reflected %v", r.Reflected)
	}
	if len(r.AttributeInjection) != 1 || r.AttributeInjection[0] != "c" {
		t.Fatalf("unexpected attribute injection %v", r.AttributeInjection)
	}
	if !r.Vulnerable() {
		t.Fatal("recorded findings must mark the report vulnerable")
	}

	silent := XSSReport{PayloadsTried: 4}
	if silent.Vulnerable() {
		t.Fatal("tried-but-silent payloads are not findings")
	}
}

func TestMarkerInDialogs(t *testing.T) {
	t.Parallel()

	marker := "XSS_MARKER_abc123_1700000000000"
	if _, ok := markerInDialogs(nil, marker); ok {
		t.Fatal("no dialogs, no hit")
	}
	if _, ok := markerInDialogs([]string{"unrelated alert"}, marker); ok {
		t.Fatal("unrelated dialog must not match")
	}
	text, ok := markerInDialogs([]string{"first", "alert: " + marker}, marker)
	if !ok {
		t.Fatal("expected marker hit")
	}
	if text != "alert: "+marker {
		t.Fatalf("unexpected dialog text %q", text)
	}
}
