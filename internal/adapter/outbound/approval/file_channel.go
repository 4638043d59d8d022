// Package approval delivers gated actions to a human operator through
// the filesystem: pending requests appear as JSON files the operator can
// inspect, answers are picked up the moment they land. The answer file
// is written by the approve command, so the operator never edits by hand.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ambit-sec/ambit/internal/port/outbound"
)

const (
	pendingDirName  = "pending"
	answeredDirName = "answered"

	// pollInterval backs up the watcher; answers are found even when
	// inotify misses the rename.
	pollInterval = 500 * time.Millisecond
)

// Answer is the operator's on-disk reply to one pending request.
type Answer struct {
	RequestID string                    `json:"request_id,omitempty"`
	Decision  outbound.ApprovalDecision `json:"decision"`
	DecidedBy string                    `json:"decided_by,omitempty"`
	Note      string                    `json:"note,omitempty"`
	DecidedAt time.Time                 `json:"decided_at,omitempty"`
}

// FileChannel implements the approval channel over a spool directory:
// <dir>/pending/<id>.json out, <dir>/answered/<id>.json in.
type FileChannel struct {
	dir    string
	logger *slog.Logger
}

var _ outbound.ApprovalChannel = (*FileChannel)(nil)

// NewFileChannel prepares the spool directories.
func NewFileChannel(dir string, logger *slog.Logger) (*FileChannel, error) {
	if dir == "" {
		return nil, errors.New("approval directory is required")
	}
	for _, sub := range []string{pendingDirName, answeredDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return nil, fmt.Errorf("create approval directory: %w", err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileChannel{dir: dir, logger: logger.With("component", "approval")}, nil
}

// Request spools the request and blocks until an answer file appears,
// the deadline passes (ApprovalTimeout), or ctx is cancelled outright.
// The pending file is removed on every exit path.
func (c *FileChannel) Request(ctx context.Context, req outbound.ApprovalRequest) (outbound.ApprovalDecision, error) {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal approval request: %w", err)
	}
	pendingPath := filepath.Join(c.dir, pendingDirName, req.ID+".json")
	if err := writeAtomic(pendingPath, data); err != nil {
		return "", fmt.Errorf("write pending request: %w", err)
	}
	defer os.Remove(pendingPath)

	answerPath := filepath.Join(c.dir, answeredDirName, req.ID+".json")

	var events chan fsnotify.Event
	var watchErrs chan error
	watcher, werr := fsnotify.NewWatcher()
	if werr == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Join(c.dir, answeredDirName)); err == nil {
			events = watcher.Events
			watchErrs = watcher.Errors
		} else {
			werr = err
		}
	}
	if events == nil {
		c.logger.Warn("approval watcher unavailable, polling only", "error", werr)
	}

	c.logger.Info("approval requested",
		"request_id", req.ID, "action", req.Action, "expires_at", req.ExpiresAt)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		// The answer may already exist, or predate the watcher.
		dec, found, err := readAnswer(answerPath)
		if err != nil {
			return "", err
		}
		if found {
			c.logger.Info("approval answered", "request_id", req.ID, "decision", dec)
			return dec, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				c.logger.Warn("approval request expired unanswered", "request_id", req.ID)
				return outbound.ApprovalTimeout, nil
			}
			return "", ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name != answerPath {
				continue
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			c.logger.Warn("approval watcher error", "error", err)
		case <-ticker.C:
		}
	}
}

// readAnswer loads and validates one answer file. Missing and
// not-yet-parseable files report not found; a well-formed file with an
// unusable decision is a channel error.
func readAnswer(path string) (outbound.ApprovalDecision, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read answer: %w", err)
	}
	var ans Answer
	if err := json.Unmarshal(data, &ans); err != nil {
		// A non-atomic writer may still be mid-write; poll again.
		return "", false, nil
	}
	dec := outbound.ApprovalDecision(strings.ToUpper(strings.TrimSpace(string(ans.Decision))))
	switch dec {
	case outbound.ApprovalAllow, outbound.ApprovalDeny:
		return dec, true, nil
	default:
		return "", false, fmt.Errorf("answer %s: invalid decision %q", filepath.Base(path), ans.Decision)
	}
}

// WriteAnswer records an operator decision atomically (temp file plus
// rename) so a waiting channel never observes a partial answer. Used by
// the approve command.
func WriteAnswer(dir, requestID string, ans Answer) error {
	dec := outbound.ApprovalDecision(strings.ToUpper(strings.TrimSpace(string(ans.Decision))))
	if dec != outbound.ApprovalAllow && dec != outbound.ApprovalDeny {
		return fmt.Errorf("invalid decision %q: want ALLOW or DENY", ans.Decision)
	}
	ans.Decision = dec
	ans.RequestID = requestID
	if ans.DecidedAt.IsZero() {
		ans.DecidedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(filepath.Join(dir, answeredDirName), 0700); err != nil {
		return fmt.Errorf("create answered directory: %w", err)
	}
	data, err := json.MarshalIndent(ans, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	return writeAtomic(filepath.Join(dir, answeredDirName, requestID+".json"), data)
}

// ListPending returns the spooled, unanswered requests, oldest first.
func ListPending(dir string) ([]outbound.ApprovalRequest, error) {
	entries, err := os.ReadDir(filepath.Join(dir, pendingDirName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending directory: %w", err)
	}

	var out []outbound.ApprovalRequest
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, pendingDirName, e.Name()))
		if err != nil {
			continue
		}
		var req outbound.ApprovalRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".ambit-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish file: %w", err)
	}
	return nil
}
