package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/codecollab-dev/syncengine/internal/api"
	"github.com/codecollab-dev/syncengine/internal/assist"
	"github.com/codecollab-dev/syncengine/internal/chat"
	"github.com/codecollab-dev/syncengine/internal/config"
	"github.com/codecollab-dev/syncengine/internal/durable"
	"github.com/codecollab-dev/syncengine/internal/ephemeral"
	"github.com/codecollab-dev/syncengine/internal/gateway"
	"github.com/codecollab-dev/syncengine/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	redisAddr      string
	signingKey     string
	allowedOrigins stringSliceFlag
	assistAPIKey   string
	assistBaseURL  string
	assistModels   stringSliceFlag
	devMode        bool
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address for the ephemeral store")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&assistAPIKey, "assist-api-key", os.Getenv("ASSIST_API_KEY"), "API key for the assistant (empty disables it)")
	flag.StringVar(&assistBaseURL, "assist-base-url", "", "override base URL for the assistant API")
	flag.Var(&assistModels, "assist-models", "comma-separated list of assistant models, tried in order")
	flag.BoolVar(&devMode, "dev", false, "run with in-memory stores")
	flag.Parse()

	logger := log.New(os.Stderr, "[syncengine] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, redisAddr, signingKey, allowedOrigins, devMode)
	if err != nil {
		logger.Fatal("config:", err)
	}
	cfg.AssistAPIKey = assistAPIKey
	cfg.AssistBaseURL = assistBaseURL
	cfg.AssistModels = assistModels

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	var (
		durableStore   durable.Store
		ephemeralStore ephemeral.Store
	)
	if cfg.DevMode {
		logger.Println("dev mode: using in-memory stores")
		durableStore = durable.NewMemoryStore()
		ephemeralStore = ephemeral.NewMemoryStore()
	} else {
		pgStore, err := durable.NewPgStore(logger, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("db open:", err)
		}
		defer func() {
			if err := pgStore.Close(); err != nil {
				logger.Println("db close:", err)
			}
		}()
		durableStore = pgStore

		redisStore, err := ephemeral.NewRedisStore(logger, cfg.RedisAddr)
		if err != nil {
			logger.Fatal("redis open:", err)
		}
		defer func() {
			if err := redisStore.Close(); err != nil {
				logger.Println("redis close:", err)
			}
		}()
		ephemeralStore = redisStore
	}

	var assistClient *assist.Client
	var responder chat.Responder
	if cfg.AssistAPIKey != "" {
		assistClient = assist.NewClient(logger, statsUpdater, cfg.AssistAPIKey, cfg.AssistBaseURL, cfg.AssistModels)
		responder = assistClient
	} else {
		logger.Println("assistant disabled: no API key")
	}

	chatSvc := chat.NewService(logger, durableStore, statsUpdater, responder)
	gw := gateway.NewGateway(logger, durableStore, ephemeralStore, chatSvc, statsUpdater)

	srv := api.NewSyncApp(mux, logger, gw, durableStore, chatSvc, assistClient, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go gw.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down gateway...")
	gw.Shutdown()

	logger.Println("shutdown complete")
}
