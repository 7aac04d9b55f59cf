// Package main is the entry point for the Procrasturbate application.
// Procrasturbate is an AI-powered pull request review service installed
// as a GitHub App.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/procrasturbate/procrasturbate/consts"
	"github.com/procrasturbate/procrasturbate/internal/ai"
	"github.com/procrasturbate/procrasturbate/internal/config"
	"github.com/procrasturbate/procrasturbate/internal/database"
	"github.com/procrasturbate/procrasturbate/internal/engine"
	"github.com/procrasturbate/procrasturbate/internal/githubapp"
	"github.com/procrasturbate/procrasturbate/internal/scheduler"
	"github.com/procrasturbate/procrasturbate/internal/server"
	"github.com/procrasturbate/procrasturbate/internal/store"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
	"github.com/procrasturbate/procrasturbate/pkg/telemetry"
)

// Build information - set via ldflags during build
// These variables are linked to consts package for global access
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// init synchronizes build info to consts package for global access
func init() {
	consts.Version = Version
	consts.BuildTime = BuildTime
	consts.GitCommit = GitCommit
}

// configPath holds the path to the configuration file
var configPath string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "procrasturbate",
	Short: "Procrasturbate - AI-Powered Pull Request Review Service",
	Long: `Procrasturbate is a GitHub App that reviews pull requests with an AI
backend. It listens for webhook deliveries, debounces rapid pushes, and posts
review comments directly on the pull request.`,
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Procrasturbate server",
	Long: `Start the HTTP server to receive GitHub webhook deliveries and run
reviews. Requires GitHub App credentials and an AI API key in the
configuration file.`,
	Run: runServe,
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Procrasturbate %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
	},
}

func init() {
	// Disable auto-generated completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	// Add commands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	// Serve command flags
	serveCmd.Flags().String("host", "", "server host (overrides config)")
	serveCmd.Flags().Int("port", 0, "server port (overrides config)")
	serveCmd.Flags().Bool("debug", false, "enable debug mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runServe starts the Procrasturbate server
func runServe(cmd *cobra.Command, args []string) {
	// Record server start time
	consts.SetStartedAt(time.Now())

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Override config with command line flags
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Server.Debug = true
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Procrasturbate",
		zap.String("version", Version),
	)

	// Initialize telemetry (OpenTelemetry traces and metrics)
	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown telemetry", zap.Error(err))
		}
	}()

	var metrics *telemetry.Metrics
	if tel.IsEnabled() {
		metrics = telemetry.GetMetrics()
	}

	// Initialize database
	if err := database.Init(); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	dataStore := store.NewStore(database.Get())

	// GitHub App authentication
	privateKey, err := cfg.GithubApp.PrivateKeyPEM()
	if err != nil {
		logger.Fatal("Failed to read GitHub App private key", zap.Error(err))
	}
	appAuth, err := githubapp.NewAppAuth(cfg.GithubApp.AppID, privateKey)
	if err != nil {
		logger.Fatal("Failed to initialize GitHub App auth", zap.Error(err))
	}
	tokenCache := githubapp.NewTokenCache()
	clients := func(installationID int64) engine.HostClient {
		return githubapp.NewClient(appAuth, tokenCache, installationID, cfg.GithubApp.BaseURL)
	}

	// Review pipeline
	reviewer := ai.NewReviewer(cfg.AI)
	budget := engine.NewBudget(dataStore, cfg.AI.InputCostCentsPerMillion, cfg.AI.OutputCostCentsPerMillion)
	eng := engine.New(dataStore, clients, reviewer, budget, cfg.Review, metrics)

	// Scheduler with job recovery from previous runs
	sched := scheduler.New(dataStore.Job(), cfg.Scheduler, metrics)
	installations := engine.NewInstallations(dataStore, cfg.Review.DefaultMonthlyBudgetCents)
	debounce := time.Duration(cfg.Review.ReviewDebounceSeconds) * time.Second
	dispatcher := engine.NewDispatcher(dataStore, sched, eng, installations, clients, cfg.Review.BotTriggers, debounce)

	if err := sched.RecoverJobs(); err != nil {
		logger.Warn("Failed to recover scheduled jobs", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	// Background sweep for reviews orphaned by crashes or retry exhaustion
	reconciler := engine.NewReconciler(dataStore)
	if err := reconciler.Start(); err != nil {
		logger.Fatal("Failed to start reconciler", zap.Error(err))
	}
	defer reconciler.Stop()

	// Create and start server
	srv := server.New(cfg, dispatcher, dataStore, sched)
	if err := srv.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	logger.Info("Procrasturbate server is running",
		zap.String("address", cfg.Server.Address()),
	)

	// Wait for shutdown
	srv.WaitForShutdown()

	logger.Info("Procrasturbate stopped")
}
