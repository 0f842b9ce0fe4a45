// Command dashboard runs the cloud-dashboard backend: the OAuth2 credential
// broker plus the HTTP surface the provider data modules and the UI talk to.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/netcomhub/dashboard/pkg/api"
	"github.com/netcomhub/dashboard/pkg/broker"
	"github.com/netcomhub/dashboard/pkg/logger"
	"github.com/netcomhub/dashboard/pkg/provider"
	"github.com/netcomhub/dashboard/pkg/store"

	"github.com/appleboy/graceful"
	sloggin "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
)

func main() {
	var addr string
	var uiURL string
	var logLevel string
	var storeType string
	var fileDir string
	var fileTTL time.Duration
	var redisAddr string
	var redisPassword string
	var redisDB int
	flag.StringVar(&addr, "addr", ":5000", "address to listen on")
	flag.StringVar(&uiURL, "ui-url", os.Getenv("DASHBOARD_UI_URL"), "dashboard UI base URL for OAuth callback redirects")
	flag.StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR). Defaults to DEBUG in development, INFO in production")
	flag.StringVar(&storeType, "store", "memory", "Store type: memory, file, or redis")
	flag.StringVar(&fileDir, "file-dir", "data", "Credential directory (only used when store=file)")
	flag.DurationVar(&fileTTL, "file-ttl", store.DefaultFileTTL, "Stored credential cutoff (only used when store=file)")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address (only used when store=redis)")
	flag.StringVar(&redisPassword, "redis-password", "", "Redis password (only used when store=redis)")
	flag.IntVar(&redisDB, "redis-db", 0, "Redis database (only used when store=redis)")
	flag.Parse()

	// Initialize logger with the specified log level
	logger.NewWithLevel(logLevel)

	registry, err := provider.FromEnv()
	if err != nil {
		slog.Error("Failed to load provider configuration", "error", err)
		os.Exit(1)
	}
	if err := registry.Validate(); err != nil {
		slog.Error("Provider configuration is invalid", "error", err)
		os.Exit(1)
	}
	if len(registry.IDs()) == 0 {
		slog.Error("No providers configured; set {PROVIDER}_CLIENT_ID/_CLIENT_SECRET env vars")
		os.Exit(1)
	}
	slog.Info("Providers configured", "providers", registry.IDs())

	storeConfig := store.Config{
		Type: store.ParseStoreType(storeType),
		File: store.FileOptions{
			Dir: fileDir,
			TTL: fileTTL,
		},
		Redis: store.RedisOptions{
			Addr:     redisAddr,
			Password: redisPassword,
			DB:       redisDB,
		},
	}
	credStore, err := store.NewStore(storeConfig)
	if err != nil {
		slog.Error("Failed to create store", "type", storeType, "error", err)
		os.Exit(1)
	}

	switch storeConfig.Type {
	case store.StoreTypeMemory:
		slog.Info("Using in-memory store")
	case store.StoreTypeFile:
		slog.Info("Using file store", "dir", fileDir, "ttl", fileTTL)
	case store.StoreTypeRedis:
		slog.Info("Using Redis store", "addr", redisAddr, "db", redisDB)
	}

	b := broker.New(registry, credStore)

	router := gin.New()
	router.Use(sloggin.SetLogger(), gin.Recovery())
	api.NewServer(b, uiURL).RegisterRoutes(router)

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second, // 10 seconds
		WriteTimeout: 10 * time.Second, // 10 seconds
		IdleTimeout:  60 * time.Second, // 60 seconds
	}

	m := graceful.NewManager()
	m.AddRunningJob(func(ctx context.Context) error {
		slog.Info("Dashboard HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	m.AddShutdownJob(func() error {
		slog.Info("Shutdown signal received, shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
		if closer, ok := credStore.(interface{ Close() }); ok {
			closer.Close()
		}
		slog.Info("Server shutdown gracefully")
		return nil
	})

	<-m.Done()
}
