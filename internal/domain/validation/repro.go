package validation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// DefaultReproCount is the attempt count when the caller does not pick one.
const DefaultReproCount = 3

// RunRepro replays the finding's request count times and grades each
// attempt against the expectation. Attempts run sequentially; policy
// failures and cancellation abort the loop and return the partial result
// alongside the error. Transport failures are attempt data.
func (e *Engine) RunRepro(ctx context.Context, f Finding, count int) (*ReproResult, error) {
	if count <= 0 {
		count = DefaultReproCount
	}
	f.normalize()

	var re *regexp.Regexp
	if f.Expected != nil && f.Expected.BodyRegex != "" {
		var err error
		re, err = regexp.Compile(f.Expected.BodyRegex)
		if err != nil {
			return nil, fmt.Errorf("compile body_regex: %w", err)
		}
	}

	result := &ReproResult{FindingID: f.FindingID, Count: count}
	hashes := make(map[string]struct{})
	matched := 0
	body := requestBody(f.Request.Method, f.Request.Body)

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		probe, err := e.issue(ctx, f.Request.Method, f.Request.URL, f.Request.Headers, body)
		if err != nil {
			return result, err
		}

		att := Attempt{DurationMs: probe.DurationMs}
		if probe.Err != nil {
			att.Error = probe.Err.Error()
		} else {
			att.Status = probe.Status
			att.BodyLen = len(probe.Body)
			att.BodySHA256 = probe.BodySHA256
			att.Matched = matchExpectation(f.Expected, re, probe.Status, probe.Body)
		}
		result.Attempts = append(result.Attempts, att)
		if att.Matched {
			matched++
			hashes[att.BodySHA256] = struct{}{}
		}
	}

	result.SuccessRate = float64(matched) / float64(count)
	result.Consistent = matched > 0 && len(hashes) <= 1

	e.logger.Info("repro finished",
		"finding_id", f.FindingID, "count", count,
		"success_rate", result.SuccessRate, "consistent", result.Consistent)
	e.persist(ctx, "", "repro", f.FindingID, "", 0, result)
	return result, nil
}

// matchExpectation grades one response. With no expectation any 2xx
// matches; otherwise every given criterion must hold.
func matchExpectation(exp *Expectation, re *regexp.Regexp, status int, body []byte) bool {
	if exp == nil {
		return status >= 200 && status < 300
	}
	if exp.StatusCode != 0 && status != exp.StatusCode {
		return false
	}
	text := string(body)
	for _, want := range exp.BodyContains {
		if !strings.Contains(text, want) {
			return false
		}
	}
	for _, not := range exp.BodyNotContains {
		if strings.Contains(text, not) {
			return false
		}
	}
	if re != nil && !re.MatchString(text) {
		return false
	}
	return true
}
