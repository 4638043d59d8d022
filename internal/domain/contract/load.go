package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// Format identifies the contract file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ErrEmptyContract is returned when the contract source decodes to nothing.
var ErrEmptyContract = errors.New("contract source is empty")

// Load reads, decodes, normalizes, and validates a contract file. Format is
// chosen by extension with a content sniff as fallback. On schema failure
// the returned error is a *ValidationError carrying every violation.
func Load(path string) (*Contract, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract %s: %w", path, err)
	}
	return Parse(raw, formatForPath(path, raw))
}

// Parse decodes raw contract bytes in the given format. Decoding is strict:
// unknown keys reject. The parsed contract is normalized, validated, and
// stamped with the content hash of the raw bytes.
func Parse(raw []byte, format Format) (*Contract, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyContract
	}

	var c Contract
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("decode contract json: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrEmptyContract
			}
			return nil, fmt.Errorf("decode contract yaml: %w", err)
		}
	}

	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.ContentHash = ContentHash(raw)
	return &c, nil
}

// ContentHash returns the xxhash of raw contract bytes as a fixed-width hex
// string. Used for reload change detection and status reporting.
func ContentHash(raw []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(raw))
}

// formatForPath picks the decode format from the file extension, falling
// back to sniffing the content. YAML is the default: JSON contracts without
// a .json extension are still detected by their leading brace.
func formatForPath(path string, raw []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatYAML
}
