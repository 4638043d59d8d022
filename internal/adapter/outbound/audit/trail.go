// Package audit implements the file-backed decision trail: JSON Lines
// under a spool directory, one file per UTC day with size-based
// splitting, retention cleanup, and a ring buffer of recent records for
// the ops endpoint.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ambit-sec/ambit/internal/domain/audit"
)

// decisionFilePattern matches decisions-YYYY-MM-DD.log and
// decisions-YYYY-MM-DD-N.log split files.
var decisionFilePattern = regexp.MustCompile(`^decisions-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

const cleanupInterval = time.Hour

// Config holds trail tuning. Zero values take the defaults.
type Config struct {
	// Dir is the spool directory.
	Dir string
	// RetentionDays before old files are deleted (default 30: an
	// engagement trail usually outlives a single test window).
	RetentionDays int
	// MaxFileMB before a day's file is split (default 50).
	MaxFileMB int
	// CacheSize is how many recent records stay in memory (default 500).
	CacheSize int
}

// FileTrail is the audit.Trail file implementation.
type FileTrail struct {
	dir       string
	maxBytes  int64
	retention int
	logger    *slog.Logger
	cancel    context.CancelFunc
	recent    *ring

	mu     sync.Mutex
	file   *os.File
	date   string
	size   int64
	part   int
	closed bool
}

// NewFileTrail opens the trail: creates the spool directory, opens
// today's file, prunes expired files, warms the recent cache from the
// newest file on disk, and starts the hourly retention loop.
func NewFileTrail(cfg Config, logger *slog.Logger) (*FileTrail, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.MaxFileMB <= 0 {
		cfg.MaxFileMB = 50
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 500
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &FileTrail{
		dir:       cfg.Dir,
		maxBytes:  int64(cfg.MaxFileMB) * 1024 * 1024,
		retention: cfg.RetentionDays,
		logger:    logger.With("component", "audit_trail"),
		cancel:    cancel,
		recent:    newRing(cfg.CacheSize),
	}

	today := time.Now().UTC().Format(time.DateOnly)
	t.part = t.highestPart(today)
	if err := t.open(today, t.part); err != nil {
		cancel()
		return nil, fmt.Errorf("open trail file: %w", err)
	}

	t.prune()
	t.warmCache()
	go t.pruneLoop(ctx)

	return t, nil
}

// Append writes records as JSON lines, rolling the file on date change
// or size overflow.
func (t *FileTrail) Append(_ context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("audit trail is closed")
	}

	for _, rec := range records {
		day := rec.Timestamp.UTC().Format(time.DateOnly)
		if day != t.date {
			if err := t.rollLocked(day, 0); err != nil {
				return fmt.Errorf("date roll: %w", err)
			}
		}
		if t.size >= t.maxBytes {
			if err := t.rollLocked(t.date, t.part+1); err != nil {
				return fmt.Errorf("size roll: %w", err)
			}
		}

		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		n, err := t.file.Write(append(line, '\n'))
		if err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		t.size += int64(n)
		t.recent.add(rec)
	}
	return nil
}

// Recent returns the last n records, newest first.
func (t *FileTrail) Recent(n int) []audit.Record {
	return t.recent.last(n)
}

// Flush syncs the current file.
func (t *FileTrail) Flush(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		return t.file.Sync()
	}
	return nil
}

// Close stops the retention loop and closes the current file.
// Idempotent.
func (t *FileTrail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()
	if t.file != nil {
		_ = t.file.Sync()
		err := t.file.Close()
		t.file = nil
		return err
	}
	return nil
}

// filename builds the on-disk name for a day and part number.
func filename(day string, part int) string {
	if part == 0 {
		return fmt.Sprintf("decisions-%s.log", day)
	}
	return fmt.Sprintf("decisions-%s-%d.log", day, part)
}

// parseFilename extracts (day, part) from a trail filename.
func parseFilename(name string) (day string, part int, ok bool) {
	m := decisionFilePattern.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return "", 0, false
		}
		part = n
	}
	return m[1], part, true
}

// open opens or creates the file for the given day and part and makes
// it current.
func (t *FileTrail) open(day string, part int) error {
	path := filepath.Join(t.dir, filename(day, part))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", path, err)
	}
	t.file = f
	t.date = day
	t.part = part
	t.size = info.Size()
	return nil
}

// rollLocked closes the current file and opens the one for (day, part).
// Caller holds t.mu.
func (t *FileTrail) rollLocked(day string, part int) error {
	if t.file != nil {
		_ = t.file.Sync()
		_ = t.file.Close()
		t.file = nil
	}
	return t.open(day, part)
}

// highestPart returns the largest existing part number for a day, so a
// restart appends to the newest split instead of reopening part 0.
func (t *FileTrail) highestPart(day string) int {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		d, part, ok := parseFilename(e.Name())
		if ok && d == day && part > highest {
			highest = part
		}
	}
	return highest
}

// prune deletes files older than the retention window.
func (t *FileTrail) prune() {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		t.logger.Error("trail prune: read dir", "dir", t.dir, "error", err)
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -t.retention)
	deleted := 0
	for _, e := range entries {
		day, _, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		fileDay, err := time.Parse(time.DateOnly, day)
		if err != nil || !fileDay.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(t.dir, e.Name())); err != nil {
			t.logger.Error("trail prune: delete", "file", e.Name(), "error", err)
		} else {
			deleted++
		}
	}
	if deleted > 0 {
		t.logger.Info("trail pruned", "deleted", deleted)
	}
}

func (t *FileTrail) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.prune()
		}
	}
}

// warmCache reads the newest non-empty file so Recent works across a
// restart.
func (t *FileTrail) warmCache() {
	newest := t.newestFile()
	if newest == "" {
		return
	}
	f, err := os.Open(filepath.Join(t.dir, newest))
	if err != nil {
		t.logger.Error("trail cache: open", "file", newest, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	var records []audit.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec audit.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			t.logger.Warn("trail cache: malformed line skipped", "file", newest, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		t.logger.Error("trail cache: read", "file", newest, "error", err)
	}

	if len(records) > t.recent.size {
		records = records[len(records)-t.recent.size:]
	}
	for _, rec := range records {
		t.recent.add(rec)
	}
}

// newestFile returns the most recent non-empty trail file name, or "".
func (t *FileTrail) newestFile() string {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return ""
	}
	type candidate struct {
		name string
		day  string
		part int
	}
	var files []candidate
	for _, e := range entries {
		day, part, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		files = append(files, candidate{name: e.Name(), day: day, part: part})
	}
	if len(files) == 0 {
		return ""
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].day != files[j].day {
			return files[i].day < files[j].day
		}
		return files[i].part < files[j].part
	})
	return files[len(files)-1].name
}

// Compile-time interface verification.
var _ audit.Trail = (*FileTrail)(nil)

// ring is a fixed-size buffer of the most recent records.
type ring struct {
	mu      sync.RWMutex
	entries []audit.Record
	size    int
	head    int
	count   int
}

func newRing(size int) *ring {
	return &ring{entries: make([]audit.Record, size), size: size}
}

func (r *ring) add(rec audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.head] = rec
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// last returns up to n records, newest first.
func (r *ring) last(n int) []audit.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]audit.Record, n)
	for i := 0; i < n; i++ {
		out[i] = r.entries[(r.head-1-i+r.size)%r.size]
	}
	return out
}
