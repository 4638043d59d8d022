package validation

import (
	"context"
	"fmt"
	"net/http"
)

// RunControl replays the finding once with degraded credentials and
// checks that the target refuses it. different_user relies on the caller
// overlaying the alternate identity's headers via ModifiedHeaders.
func (e *Engine) RunControl(ctx context.Context, f Finding, spec ControlSpec) (*ControlResult, error) {
	f.normalize()
	switch spec.Type {
	case ControlUnauthenticated, ControlInvalidToken, ControlDifferentUser, ControlModifiedRequest:
	default:
		return nil, fmt.Errorf("unknown control_type %q", spec.Type)
	}

	headers := controlHeaders(f.Request.Headers, spec)
	body := f.Request.Body
	if spec.ModifiedBody != nil {
		body = *spec.ModifiedBody
	}
	body = requestBody(f.Request.Method, body)

	probe, err := e.issue(ctx, f.Request.Method, f.Request.URL, headers, body)
	if err != nil {
		return nil, err
	}

	res := &ControlResult{FindingID: f.FindingID, Type: spec.Type, DurationMs: probe.DurationMs}
	if probe.Err != nil {
		res.Error = probe.Err.Error()
		res.Detail = "control request failed"
	} else {
		res.Status = probe.Status
		res.BodySHA256 = probe.BodySHA256
		res.Passed, res.Detail = controlVerdict(spec, probe.Status)
	}

	e.logger.Info("negative control finished",
		"finding_id", f.FindingID, "control_type", spec.Type,
		"status", res.Status, "passed", res.Passed)
	e.persist(ctx, "", "negative_control", f.FindingID, "", 0, res)
	return res, nil
}

// controlHeaders builds the degraded header set: finding headers, minus
// auth when RemoveAuth, then the overlay.
func controlHeaders(base map[string]string, spec ControlSpec) map[string]string {
	out := make(map[string]string, len(base)+len(spec.ModifiedHeaders))
	for k, v := range base {
		out[k] = v
	}
	if spec.RemoveAuth {
		for k := range out {
			switch http.CanonicalHeaderKey(k) {
			case "Authorization", "X-Api-Key", "Cookie":
				delete(out, k)
			}
		}
	}
	for k, v := range spec.ModifiedHeaders {
		out[k] = v
	}
	return out
}

func controlVerdict(spec ControlSpec, status int) (bool, string) {
	if spec.ExpectedStatus != 0 {
		return status == spec.ExpectedStatus,
			fmt.Sprintf("expected status %d, got %d", spec.ExpectedStatus, status)
	}
	switch spec.Type {
	case ControlUnauthenticated, ControlInvalidToken:
		return status == http.StatusUnauthorized || status == http.StatusForbidden,
			fmt.Sprintf("want 401 or 403 without valid credentials, got %d", status)
	case ControlDifferentUser:
		return status == http.StatusForbidden || status == http.StatusNotFound,
			fmt.Sprintf("want 403 or 404 for another user, got %d", status)
	default:
		return status >= 400,
			fmt.Sprintf("want an error status for the modified request, got %d", status)
	}
}
