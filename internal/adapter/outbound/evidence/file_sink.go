package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ambit-sec/ambit/internal/port/outbound"
)

// manifestName is the per-engagement artifact index, one JSON line per
// stored artifact.
const manifestName = "manifest.jsonl"

// manifestRow is one manifest line. SHA256 and Bytes describe the data
// as written, after redaction.
type manifestRow struct {
	URI    string                `json:"uri"`
	Kind   string                `json:"kind"`
	SHA256 string                `json:"sha256"`
	Bytes  int                   `json:"bytes"`
	Meta   outbound.EvidenceMeta `json:"meta,omitempty"`
	TS     time.Time             `json:"ts"`
}

// FileSink writes artifacts under
// <dir>/<engagement>/<session>/<seq>-<kind>.<ext> with restrictive
// permissions. Directories are 0700, files 0600.
type FileSink struct {
	root     string
	redactor *Redactor
	logger   *slog.Logger
	mu       sync.Mutex
}

var _ outbound.EvidenceSink = (*FileSink)(nil)

// NewFileSink creates the root directory and returns the sink. redactor
// may be nil, which disables scrubbing (tests only).
func NewFileSink(dir string, redactor *Redactor, logger *slog.Logger) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("evidence directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create evidence directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{
		root:     dir,
		redactor: redactor,
		logger:   logger.With("component", "evidence"),
	}, nil
}

// Store persists one artifact and appends its manifest row. The
// returned URI is stable and embeds the on-disk layout.
func (s *FileSink) Store(ctx context.Context, key outbound.EvidenceKey, data []byte, meta outbound.EvidenceMeta) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, seg := range []string{key.EngagementID, key.SessionID, key.Kind} {
		if err := checkSegment(seg); err != nil {
			return "", err
		}
	}

	if textualKind(key.Kind) && s.redactor != nil {
		data = s.redactor.Redact(data)
	}

	dir := filepath.Join(s.root, key.EngagementID, key.SessionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	name := fmt.Sprintf("%d-%s", key.Seq, key.Kind)
	if key.Ext != "" {
		name += "." + key.Ext
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	uri := fmt.Sprintf("evidence://%s/%s/%s", key.EngagementID, key.SessionID, name)
	sum := sha256.Sum256(data)
	row := manifestRow{
		URI:    uri,
		Kind:   key.Kind,
		SHA256: hex.EncodeToString(sum[:]),
		Bytes:  len(data),
		Meta:   meta,
		TS:     time.Now().UTC(),
	}
	if err := s.appendManifest(key.EngagementID, row); err != nil {
		// The artifact itself landed; a manifest gap is recoverable
		// from the directory listing.
		s.logger.Warn("append evidence manifest", "uri", uri, "error", err)
	}

	s.logger.Debug("evidence stored", "uri", uri, "kind", key.Kind, "bytes", len(data))
	return uri, nil
}

func (s *FileSink) appendManifest(engagementID string, row manifestRow) error {
	line, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal manifest row: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.root, engagementID, manifestName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write manifest row: %w", err)
	}
	return nil
}

// textualKind reports whether artifacts of this kind are text and must
// be redacted. Binary kinds (screenshots) pass through untouched.
func textualKind(kind string) bool {
	switch kind {
	case outbound.EvidencePageHTML, outbound.EvidenceXSSReport, outbound.EvidenceValidationTrace:
		return true
	default:
		return false
	}
}

// checkSegment rejects key parts that would escape the evidence root.
func checkSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("evidence key segment is empty")
	}
	if strings.Contains(seg, "..") || strings.ContainsAny(seg, `/\`) {
		return fmt.Errorf("evidence key segment %q contains path characters", seg)
	}
	return nil
}
