package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aeolun/allchat/pkg/database/postgres"
	"github.com/aeolun/allchat/pkg/server"
	"github.com/spf13/pflag"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Configure logger with microsecond precision
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	configPath := pflag.String("config", "~/.allchat/config.toml", "Path to config file")
	port := pflag.IntP("port", "p", 0, "HTTP port to listen on (overrides config)")
	dbPath := pflag.String("db", "", "Path to SQLite database (overrides config)")
	dbURL := pflag.String("database-url", "", "PostgreSQL DSN; uses PostgreSQL instead of SQLite (overrides config)")
	debug := pflag.Bool("debug", false, "Enable debug logging")
	pprofAddr := pflag.String("pprof", "", "Serve pprof on this address (e.g. localhost:6060)")
	version := pflag.BoolP("version", "v", false, "Show version information")
	pflag.Parse()

	if *version {
		fmt.Printf("allchat server %s\n", Version)
		os.Exit(0)
	}

	// Load configuration (creates default if not found)
	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.ApplyEnv(os.Getenv)

	// Command-line flags override config file
	if *port != 0 {
		config.Server.HTTPPort = *port
	}
	if *dbPath != "" {
		config.Server.DatabasePath = *dbPath
	}
	if *dbURL != "" {
		config.Server.DatabaseURL = *dbURL
	}

	serverConfig := config.ToServerConfig()

	srv, storeDesc, err := newServer(&config, serverConfig)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if *debug {
		srv.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	log.Printf("Config: %s (using defaults if not found)", *configPath)
	log.Printf("Database: %s", storeDesc)

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("allchat server %s started", Version)
	log.Printf("  - WebSocket: ws://localhost:%d/ws?token=<jwt>", serverConfig.HTTPPort)
	log.Printf("  - Accounts:  POST /api/register, POST /api/login")
	log.Printf("  - Metrics:   http://localhost:%d/metrics", serverConfig.HTTPPort)

	if *pprofAddr != "" {
		go func() {
			log.Printf("Starting pprof server on http://%s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped")
}

// newServer opens the configured store: PostgreSQL when a DSN is set,
// otherwise the SQLite file at database_path
func newServer(config *server.TOMLConfig, serverConfig server.ServerConfig) (*server.Server, string, error) {
	if config.Server.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := postgres.Open(ctx, config.Server.DatabaseURL, config.Server.WorkerID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open postgres: %w", err)
		}
		srv, err := server.NewServerWithStore(db, serverConfig)
		if err != nil {
			db.Close()
			return nil, "", err
		}
		return srv, "postgres", nil
	}

	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create database directory: %w", err)
	}

	srv, err := server.NewServer(dbPath, serverConfig)
	if err != nil {
		return nil, "", err
	}
	return srv, dbPath, nil
}
