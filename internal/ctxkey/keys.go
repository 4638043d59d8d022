// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Tool handlers store a logger carrying correlation_id/session_id fields here.
type LoggerKey struct{}

// CorrelationIDKey is the context key type for the per-call correlation ID.
// Evidence records and validation runs pick it up for cross-referencing.
type CorrelationIDKey struct{}
