package session

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ambit-sec/ambit/internal/domain/scope"
	"github.com/ambit-sec/ambit/internal/port/outbound"
)

// MarkerPlaceholder is replaced by the fresh probe marker in custom
// payload bodies. Custom payloads without it cannot be classified by
// reflection and will only surface through dialogs that quote them.
const MarkerPlaceholder = "{MARKER}"

// PayloadCustom tags caller-supplied payload bodies.
const PayloadCustom PayloadType = "custom"

// XSSProbeRequest describes one probe run against a single form field.
type XSSProbeRequest struct {
	FormSelector string
	FieldName    string
	// Payloads overrides the seed set with custom bodies.
	Payloads []string
	// FirstHit stops the run after the first EXECUTED payload.
	FirstHit bool
}

// XSSProbe injects the payload set into one form field and classifies
// every reflection. Each payload submission debits the page host; budget
// exhaustion aborts the run with the partial report attached.
func (m *Manager) XSSProbe(ctx context.Context, id string, req XSSProbeRequest) (*XSSReport, error) {
	var report *XSSReport
	err := m.withSession(ctx, id, StateActing, "xss_probe", func(ctx context.Context, s *Session) error {
		r, err := m.runProbe(ctx, s, req)
		report = r
		return err
	})
	return report, err
}

func (m *Manager) runProbe(ctx context.Context, s *Session, req XSSProbeRequest) (*XSSReport, error) {
	startURL := s.getCurrentURL()
	if startURL == "" {
		return nil, &XSSProbeError{Reason: "session has no page loaded"}
	}
	if err := m.guard.AssertInScope(startURL); err != nil {
		return nil, err
	}
	host := probeHost(startURL)

	elements, err := s.page.Elements(ctx)
	if err != nil {
		return nil, passthroughOr(err, &XSSProbeError{Reason: "enumerate form fields", Err: err})
	}
	fieldSel := ""
	for _, el := range elements {
		if el.Name == req.FieldName {
			fieldSel = el.Selector
			break
		}
	}
	if fieldSel == "" {
		return nil, &FieldNotFoundError{Field: req.FieldName, Form: req.FormSelector}
	}

	marker := NewMarker()
	payloads := SeedPayloads(marker)
	if len(req.Payloads) > 0 {
		payloads = payloads[:0]
		for _, body := range req.Payloads {
			payloads = append(payloads, Payload{
				Type:    PayloadCustom,
				Context: ContextHTML,
				Body:    strings.ReplaceAll(body, MarkerPlaceholder, marker),
			})
		}
	}

	// Clear stale captures so classification only sees this run.
	s.page.DrainDialogs()
	s.page.DrainConsole()

	report := &XSSReport{Marker: marker, Form: req.FormSelector, Field: req.FieldName}
	m.logger.Info("xss probe started",
		"session_id", s.id, "form", req.FormSelector, "field", req.FieldName,
		"payloads", len(payloads))

	for _, p := range payloads {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := m.guard.Consume(host, 1); err != nil {
			return report, err
		}

		// A previous submit may have navigated away; return to the form.
		// The consume above pays for this payload's round trip.
		if cur, cerr := s.page.CurrentURL(ctx); cerr == nil && cur != "" && cur != startURL {
			if _, nerr := s.page.Navigate(ctx, startURL, func(hop string) error {
				return m.guard.AssertInScope(hop)
			}); nerr != nil {
				return report, passthroughOr(nerr, &XSSProbeError{Reason: "restore form page", Err: nerr})
			}
		}

		report.PayloadsTried++
		if err := s.page.Fill(ctx, fieldSel, p.Body); err != nil {
			return report, passthroughOr(err, &XSSProbeError{Reason: "fill field", Err: err})
		}
		if err := s.page.Submit(ctx, req.FormSelector); err != nil {
			return report, passthroughOr(err, &XSSProbeError{Reason: "submit form", Err: err})
		}

		outcome, err := m.classify(ctx, s, marker, report)
		if err != nil {
			return report, err
		}
		report.record(p, outcome)

		if req.FirstHit && outcome == OutcomeExecuted {
			break
		}
	}

	if cur, cerr := s.page.CurrentURL(ctx); cerr == nil && cur != "" {
		s.setCurrentURL(cur)
	}

	m.storeProbeReport(ctx, s, startURL, req, report)
	m.logger.Info("xss probe finished",
		"session_id", s.id, "tried", report.PayloadsTried,
		"executed", len(report.Executed), "reflected", len(report.Reflected))
	return report, nil
}

// classify grades one submission: a captured dialog quoting the marker is
// EXECUTED; otherwise the DOM decides between REFLECTED (text outside
// script/style) and ATTRIBUTE_INJECTION.
func (m *Manager) classify(ctx context.Context, s *Session, marker string, report *XSSReport) (ProbeOutcome, error) {
	dialogs := s.page.DrainDialogs()
	texts := make([]string, 0, len(dialogs))
	for _, d := range dialogs {
		texts = append(texts, d.Text)
	}
	report.ConsoleMessages = append(report.ConsoleMessages, s.page.DrainConsole()...)

	if text, hit := markerInDialogs(texts, marker); hit {
		report.DialogText = text
		return OutcomeExecuted, nil
	}

	sighting, err := s.page.InspectMarker(ctx, marker)
	if err != nil {
		return OutcomeNotReflected, passthroughOr(err, &XSSProbeError{Reason: "inspect marker", Err: err})
	}
	switch {
	case sighting.InText:
		return OutcomeReflected, nil
	case sighting.InAttribute:
		return OutcomeAttributeInjection, nil
	default:
		return OutcomeNotReflected, nil
	}
}

func (m *Manager) storeProbeReport(ctx context.Context, s *Session, startURL string, req XSSProbeRequest, report *XSSReport) {
	if m.evidence == nil {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	uri, err := m.evidence.Store(ctx, outbound.EvidenceKey{
		EngagementID: m.cfg.EngagementID,
		SessionID:    s.id,
		Seq:          s.nextSeq(),
		Kind:         outbound.EvidenceXSSReport,
		Ext:          "json",
	}, data, outbound.EvidenceMeta{
		"url":   startURL,
		"form":  req.FormSelector,
		"field": req.FieldName,
	})
	if err != nil {
		m.logger.Warn("store xss report", "session_id", s.id, "error", err)
		return
	}
	report.EvidenceURI = uri
}

// probeHost extracts the budget host for the probed page.
func probeHost(rawURL string) string {
	if t, err := scope.ParseTarget(rawURL); err == nil {
		return t.Host
	}
	return rawURL
}
