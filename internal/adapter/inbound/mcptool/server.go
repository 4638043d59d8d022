// Package mcptool exposes the scope guard, browser session core, and
// validator as MCP tools over stdio. Handlers translate between wire
// inputs and the orchestration services; policy and execution failures
// come back as error results carrying the JSON envelope from pkg/wire.
package mcptool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/trace"

	"github.com/ambit-sec/ambit/internal/ctxkey"
	"github.com/ambit-sec/ambit/internal/observability"
	"github.com/ambit-sec/ambit/internal/port/outbound"
	"github.com/ambit-sec/ambit/internal/service"
)

const serverName = "ambit"

// Tool families selectable via serve --tools.
const (
	FamilyScope     = "scope"
	FamilyBrowser   = "browser"
	FamilyValidator = "validator"
)

// Config selects what the server exposes.
type Config struct {
	Version string
	// Families limits registration to the named tool families. Empty
	// means every family whose service is wired.
	Families []string
}

// Server wraps the MCP SDK server around the ambit services.
type Server struct {
	mcpServer  *mcpsdk.Server
	scope      *service.ScopeService
	sessions   *service.SessionService
	validator  *service.ValidationService
	identities outbound.IdentityStore
	logger     *slog.Logger
}

// New assembles the tool surface. Services may be nil; their families are
// then skipped even when requested.
func New(cfg Config, scope *service.ScopeService, sessions *service.SessionService, validator *service.ValidationService, identities outbound.IdentityStore, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	families, err := selectFamilies(cfg.Families)
	if err != nil {
		return nil, err
	}

	s := &Server{
		scope:      scope,
		sessions:   sessions,
		validator:  validator,
		identities: identities,
		logger:     logger.With("component", "mcptool"),
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    serverName,
			Version: cfg.Version,
		},
		nil,
	)

	if families[FamilyScope] && s.scope != nil {
		s.registerScopeTools()
	}
	if families[FamilyBrowser] && s.sessions != nil {
		s.registerBrowserTools()
	}
	if families[FamilyValidator] && s.validator != nil {
		s.registerValidatorTools()
	}
	return s, nil
}

// Run serves MCP on stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio")
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func selectFamilies(names []string) (map[string]bool, error) {
	families := map[string]bool{
		FamilyScope:     true,
		FamilyBrowser:   true,
		FamilyValidator: true,
	}
	if len(names) == 0 {
		return families, nil
	}
	for k := range families {
		families[k] = false
	}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := families[name]; !ok {
			return nil, fmt.Errorf("unknown tool family %q (valid: scope, browser, validator)", name)
		}
		families[name] = true
	}
	return families, nil
}

// instrument opens the per-call span and threads a correlation id plus an
// enriched logger through the context for downstream log lines and
// evidence records.
func (s *Server) instrument(ctx context.Context, tool string) (context.Context, trace.Span) {
	ctx, span := observability.Tracer().Start(ctx, "ambit.tool/"+tool)
	correlationID := uuid.NewString()
	logger := s.logger.With("tool", tool, "correlation_id", correlationID)
	ctx = context.WithValue(ctx, ctxkey.CorrelationIDKey{}, correlationID)
	ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger)
	return ctx, span
}

// loggerFrom returns the enriched per-call logger when one is in ctx.
func (s *Server) loggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return s.logger
}
