// Package main provides the AMM index HTTP server.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"go.ngs.io/amm-index/internal/adapter/store/sqlite"
	"go.ngs.io/amm-index/internal/config"
	httpHandler "go.ngs.io/amm-index/internal/http"
	"go.ngs.io/amm-index/internal/observability"
	"go.ngs.io/amm-index/internal/usecase"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	configFile := flag.String("config", "", "Config file (yaml, toml or json)")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("amm-server version %s\n", version)
		return
	}

	// Load configuration from defaults, file and AMM_* environment.
	v, err := config.New(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.SQLitePath == "" {
		logger.Fatal("sqlite.path (AMM_SQLITE_PATH) is required")
	}

	logger.Info("Starting AMM index server...")
	logger.Infof("Port: %s", cfg.ServerPort)
	logger.Infof("Database: %s", cfg.SQLitePath)

	clock := clockwork.NewRealClock()
	store, err := sqlite.Open(cfg.SQLitePath, clock)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	queryUC := usecase.NewQueryUseCase(store)

	gin.SetMode(gin.ReleaseMode)
	router := httpHandler.SetupRouter(queryUC, cfg.CORSOrigins, clock, logger)

	// Start server.
	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	logger.Infof("Server listening on %s", addr)
	logger.Infof("Health check: http://localhost:%s/health", cfg.ServerPort)
	logger.Info("API endpoints:")
	logger.Info("  - GET /v1/runs")
	logger.Info("  - GET /v1/runs/:id")
	logger.Info("  - GET /metrics")

	if err := router.Run(addr); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("AMM Index Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  amm-server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println("  -config FILE   Config file (yaml, toml or json)")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  AMM_SQLITE_PATH           SQLite database written by 'amm --sqlite' (required)")
	fmt.Println("  AMM_SERVER_PORT           Server port (default: 8080)")
	fmt.Println("  AMM_SERVER_CORS_ORIGINS   Comma-separated list of allowed origins (default: all origins)")
	fmt.Println("  AMM_LOG_LEVEL             Log level (default: info)")
	fmt.Println("  AMM_LOG_FORMAT            Log format, text or json (default: text)")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Serve the runs stored by the batch tool")
	fmt.Println("  AMM_SQLITE_PATH=data/amm.db amm-server")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET /health                Health check")
	fmt.Println("  GET /metrics               Prometheus metrics")
	fmt.Println("  GET /v1/runs               List stored index runs")
	fmt.Println("  GET /v1/runs/:id           Index rows of one run (?ens=&start=&end=)")
	fmt.Println()
}
