package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ambit-sec/ambit/internal/adapter/inbound/mcptool"
	"github.com/ambit-sec/ambit/internal/adapter/inbound/ops"
	"github.com/ambit-sec/ambit/internal/adapter/outbound/approval"
	"github.com/ambit-sec/ambit/internal/adapter/outbound/audit"
	"github.com/ambit-sec/ambit/internal/adapter/outbound/browserdrv"
	"github.com/ambit-sec/ambit/internal/adapter/outbound/celrule"
	"github.com/ambit-sec/ambit/internal/adapter/outbound/evidence"
	"github.com/ambit-sec/ambit/internal/adapter/outbound/history"
	"github.com/ambit-sec/ambit/internal/adapter/outbound/identity"
	"github.com/ambit-sec/ambit/internal/adapter/outbound/oracle"
	"github.com/ambit-sec/ambit/internal/config"
	"github.com/ambit-sec/ambit/internal/domain/contract"
	"github.com/ambit-sec/ambit/internal/domain/scope"
	"github.com/ambit-sec/ambit/internal/domain/session"
	"github.com/ambit-sec/ambit/internal/domain/validation"
	"github.com/ambit-sec/ambit/internal/observability"
	"github.com/ambit-sec/ambit/internal/port/outbound"
	"github.com/ambit-sec/ambit/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP tool server",
	Long: `Start the ambit MCP server on stdio.

The agent connects over stdio; every tool call is checked against the
engagement contract before it reaches the network. Logs go to stderr,
stdout carries the MCP stream.

The contract file is watched for changes. Edit it mid-engagement and
ambit picks it up; on Unix a SIGHUP forces an immediate reload.

Examples:
  # Serve every tool family
  SCOPE_FILE=./contract.yaml ambit serve

  # Scope tools only, no browser
  ambit serve --tools scope

  # With a specific config file
  ambit --config /etc/ambit/ambit.yaml serve`,
	RunE: runServe,
}

var toolFamilies []string

func init() {
	serveCmd.Flags().StringSliceVar(&toolFamilies, "tools", nil,
		"tool families to expose: scope, browser, validator (default: all)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration without validation so CLI flags can override first.
	cfg, err := config.LoadRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("tools") {
		cfg.Tools = toolFamilies
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Logger to stderr. Stdout is the MCP stream and must stay clean.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("ambit stopped")
	return nil
}

// run wires the kernel together: guard, browser stack, validator, and the
// MCP surface, plus the optional ops listener.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.EnableScopeValidation {
		logger.Warn("scope validation is DISABLED; every target will be allowed",
			"enable_scope_validation", false)
	}

	shutdownTelemetry, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		Enabled:        cfg.Telemetry,
		ServiceName:    "ambit",
		ServiceVersion: Version,
	}, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	rules, err := celrule.NewEvaluator()
	if err != nil {
		return fmt.Errorf("compile approval rules: %w", err)
	}

	approvals, err := approval.NewFileChannel(cfg.ApprovalDir, logger)
	if err != nil {
		return fmt.Errorf("open approval spool: %w", err)
	}

	guard := scope.NewGuard(scope.GuardOptions{
		Rules:    rules,
		Approval: approvals,
		Enforce:  &cfg.EnableScopeValidation,
	})

	var scopeOpts []service.ScopeOption
	if cfg.AuditDir != "" {
		trail, err := audit.NewFileTrail(audit.Config{Dir: cfg.AuditDir}, logger)
		if err != nil {
			return fmt.Errorf("open audit trail: %w", err)
		}
		defer func() {
			if err := trail.Close(); err != nil {
				logger.Warn("close audit trail", "error", err)
			}
		}()
		scopeOpts = append(scopeOpts, service.WithAuditTrail(trail))
	}

	scopeSvc := service.NewScopeService(guard, cfg.ScopeFile, metrics, logger, scopeOpts...)
	if err := scopeSvc.Load(); err != nil {
		if cfg.FailClosed {
			return fmt.Errorf("load contract: %w", err)
		}
		// Degraded start: the guard denies everything until a valid
		// contract lands on disk and the watcher picks it up.
		logger.Error("contract load failed, starting degraded",
			"path", cfg.ScopeFile, "error", err)
	}

	// Contract-derived wiring. All of it tolerates a degraded guard.
	ctr := guard.Contract()
	engagementID := cfg.EngagementID
	var creds []contract.Credential
	var allowedHosts []string
	var timeouts contract.Timeouts
	if ctr != nil {
		if engagementID == "" {
			engagementID = ctr.Identity.ID
		}
		creds = ctr.Credentials
		allowedHosts = ctr.Allowlist.Domains
		timeouts = ctr.Constraints.Timeouts
	}

	sink, err := evidence.NewFileSink(cfg.EvidenceDir, evidence.NewRedactor(allowedHosts), logger)
	if err != nil {
		return fmt.Errorf("open evidence dir: %w", err)
	}

	identities := identity.NewStore(creds, logger)

	pageOracle := oracle.NewClient(oracle.Config{
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		APIKeyEnv: cfg.LLM.APIKeyEnv,
		MaxTokens: cfg.LLM.MaxTokens,
	}, logger)

	driver := browserdrv.NewDriver(logger)
	manager := session.NewManager(driver, pageOracle, sink, guard, session.ManagerConfig{
		EngagementID:   engagementID,
		ProxyURL:       cfg.BurpProxyURL,
		Headless:       cfg.Headless,
		MaxSessions:    cfg.MaxSessions,
		DefaultTimeout: cfg.DefaultTimeout(),
	}, logger)
	sessionSvc := service.NewSessionService(manager, metrics, logger)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		sessionSvc.CloseAll(cctx)
	}()

	proxyClient, err := service.NewProxyClient(cfg.BurpProxyURL, timeouts, cfg.ProxyCAFile, metrics)
	if err != nil {
		return fmt.Errorf("build proxy client: %w", err)
	}

	var historyStore outbound.HistoryStore
	if cfg.HistoryPath != "" {
		store, err := history.Open(cfg.HistoryPath, logger)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("close history store", "error", err)
			}
		}()
		historyStore = store
	} else {
		logger.Info("validation history disabled")
	}

	engine := validation.NewEngine(proxyClient, guard, historyStore, sink, validation.EngineConfig{
		EngagementID:   engagementID,
		DefaultTimeout: cfg.DefaultTimeout(),
	}, logger)
	validatorSvc := service.NewValidationService(engine, metrics, logger)

	srv, err := mcptool.New(mcptool.Config{
		Version:  Version,
		Families: cfg.Tools,
	}, scopeSvc, sessionSvc, validatorSvc, identities, logger)
	if err != nil {
		return fmt.Errorf("build MCP server: %w", err)
	}

	// Contract file watcher. Watcher failure downgrades to SIGHUP-only
	// reloads rather than killing the server.
	go func() {
		if err := scopeSvc.Watch(ctx); err != nil {
			logger.Error("contract watch stopped", "error", err)
		}
	}()

	if sigs := reloadSignals(); len(sigs) > 0 {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, sigs...)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					if _, err := scopeSvc.Reload(); err != nil {
						logger.Error("contract reload failed", "error", err)
					}
				}
			}
		}()
	}

	if cfg.OpsAddr != "" {
		opsSrv := ops.New(cfg.OpsAddr, scopeSvc, sessionSvc, registry, Version, logger)
		go func() {
			if err := opsSrv.Start(ctx); err != nil {
				logger.Error("ops listener failed", "addr", cfg.OpsAddr, "error", err)
			}
		}()
	}

	logger.Info("ambit serving",
		"engagement_id", engagementID,
		"proxy", cfg.BurpProxyURL,
		"tools", cfg.Tools,
		"fail_closed", cfg.FailClosed,
	)

	return srv.Run(ctx)
}
