package outbound

import "context"

// OracleRequest is one page-analysis task. PageText is pre-truncated by the
// caller to the per-task limit; Elements summarize the interactive DOM.
// AnswerFormat states the JSON envelope the caller will validate the
// answer against; adapters render it into the prompt verbatim.
type OracleRequest struct {
	Task         string
	PageText     string
	Elements     []PageElement
	AnswerFormat string
}

// PageOracle turns a natural-language task plus page context into a raw
// JSON answer. The session core owns schema validation of the answer; the
// oracle is an opaque collaborator and its output is never trusted as-is.
type PageOracle interface {
	Analyze(ctx context.Context, req OracleRequest) ([]byte, error)
}
