package outbound

import "context"

// Evidence artifact kinds. Textual kinds pass through the redactor before
// they reach storage.
const (
	EvidenceScreenshot      = "screenshot"
	EvidencePageHTML        = "page_html"
	EvidenceXSSReport       = "xss_report"
	EvidenceValidationTrace = "validation_trace"
)

// EvidenceKey addresses one artifact. Seq is a per-session monotonic
// counter assigned by the session core.
type EvidenceKey struct {
	EngagementID string
	SessionID    string
	Seq          int
	Kind         string
	Ext          string
}

// EvidenceMeta is free-form artifact metadata recorded in the manifest.
type EvidenceMeta map[string]string

// EvidenceSink persists artifacts and returns a stable URI for each.
type EvidenceSink interface {
	Store(ctx context.Context, key EvidenceKey, data []byte, meta EvidenceMeta) (uri string, err error)
}
