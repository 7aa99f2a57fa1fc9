package cmd

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/partnerops/draftforge/internal/observability"
	"github.com/partnerops/draftforge/internal/server"
	"github.com/partnerops/draftforge/internal/server/handlers"
	"github.com/partnerops/draftforge/pkg/cleanup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control surface",
	Long: `Run the HTTP control surface for the partner portal.

Endpoints:
  POST /jobs              upload a work-item document
  GET  /jobs              list jobs, newest first
  GET  /jobs/{id}         job detail (with output summary when done)
  POST /jobs/{id}/start   start a queued job
  POST /jobs/{id}/stop    stop a job and clean up its artifacts
  GET  /jobs/{id}/logs    coordinator or worker logs
  GET  /health            readiness with dependency checks
  GET  /version           build metadata`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
}

// storeChecker pings the draft store for health probes.
type storeChecker struct {
	db *sql.DB
}

func (c storeChecker) CheckHealth(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// ledgerChecker verifies the job ledger is readable.
type ledgerChecker struct {
	env *appEnv
}

func (c ledgerChecker) CheckHealth(ctx context.Context) error {
	_, err := c.env.ledger.Load()
	return err
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := loadEnv(ctx)
	if err != nil {
		return err
	}

	host := env.cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := env.cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}

	db := env.openStore(ctx)
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	handlers.InitHealthManager(versionInfo.Version)
	handlers.GetHealthManager().RegisterChecker("ledger", ledgerChecker{env: env})
	if db != nil {
		handlers.GetHealthManager().RegisterChecker("store", storeChecker{db: db})
	}

	sup := env.newSupervisor()
	coordinator := cleanup.New(env.ledger, env.registry, env.resolver, db,
		env.cfg.Paths.DraftsRoot, observability.CLILogger)
	jobs := handlers.NewJobsHandler(env.ledger, sup, coordinator, env.resolver,
		env.cfg.Paths.UploadDir, observability.CLILogger)

	srv := server.New(host, port).
		WithLogger(observability.CLILogger).
		WithJobs(jobs)

	observability.CLILogger.Info("Starting control surface",
		zap.String("host", host),
		zap.Int("port", port),
		zap.String("ledger", env.cfg.Paths.LedgerPath),
		zap.String("drafts_root", env.cfg.Paths.DraftsRoot))

	if err := srv.Start(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	return nil
}
