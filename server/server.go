package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	zkcircuit "github.com/mynextid/zklogin-prover/circuits/zklogin"
	"github.com/mynextid/zklogin-prover/common"
	"github.com/mynextid/zklogin-prover/jwks"
	"github.com/mynextid/zklogin-prover/metrics"
	"github.com/mynextid/zklogin-prover/nonce"
	"github.com/mynextid/zklogin-prover/prover"
	"github.com/mynextid/zklogin-prover/server/api"
	"github.com/mynextid/zklogin-prover/zklogin"
)

type ServeConfig struct {
	// Server settings
	Host string
	Port int

	// Circuit and prover settings
	CircuitsDir    string
	WorkDir        string
	Slots          int
	WitnessCommand string
	ProverCommand  string
	WitnessTimeout time.Duration
	ProveTimeout   time.Duration

	// Token and key settings
	ProvidersFile   string
	JWKSTimeout     time.Duration
	KeyCacheTTL     time.Duration
	KeyMissInterval time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	NoncePolicy     string
	VerifySignature bool

	// Performance settings
	MaxRequestSize  int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Security settings
	EnableCORS  bool
	CorsOrigins []string

	// Observability
	EnablePprof bool
	EnableDebug bool
	LogLevel    string
	LogFormat   string // "json" or "text"

	// TLS settings
	EnableTLS bool
	CertFile  string
	KeyFile   string
}

func Run(cfg *ServeConfig) error {
	if err := validateServeConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := common.NewLogger(cfg.LogLevel, cfg.LogFormat)

	policy, err := nonce.ParsePolicy(cfg.NoncePolicy)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	providers := jwks.Providers(jwks.DefaultProviders)
	if cfg.ProvidersFile != "" {
		if providers, err = jwks.LoadProviders(cfg.ProvidersFile); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var checks []health.Check

	var cache jwks.Cache = jwks.NewMemoryCache()
	if cfg.RedisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    strings.Split(cfg.RedisAddr, ","),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()

		rc := jwks.NewRedisCache(client, cfg.KeyCacheTTL)
		cache = rc
		checks = append(checks, health.Check{Name: "redis", Check: rc.Ping})
		logger.Info("Using redis key cache", "addrs", cfg.RedisAddr)
	}

	resolver := jwks.NewResolver(providers,
		jwks.WithCache(cache),
		jwks.WithTimeout(cfg.JWKSTimeout),
		jwks.WithTTL(cfg.KeyCacheTTL),
		jwks.WithMissInterval(cfg.KeyMissInterval),
		jwks.WithLogger(logger),
		jwks.WithMetrics(m),
	)

	artifacts := common.ArtifactsIn(cfg.CircuitsDir, zkcircuit.Name)
	coordinator, err := prover.New(prover.Config{
		WorkDir:        cfg.WorkDir,
		CircuitPath:    artifacts.CCS,
		ProvingKeyPath: artifacts.ProvingKey,
		WitnessCommand: selfCommand(cfg.WitnessCommand),
		ProverCommand:  selfCommand(cfg.ProverCommand),
		Slots:          cfg.Slots,
		WitnessTimeout: cfg.WitnessTimeout,
		ProveTimeout:   cfg.ProveTimeout,
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		return fmt.Errorf("invalid prover configuration: %w", err)
	}

	svc, err := zklogin.New(zklogin.Config{
		Resolver:        resolver,
		Prover:          coordinator,
		NoncePolicy:     policy,
		VerifySignature: cfg.VerifySignature,
		Logger:          logger,
		Metrics:         m,
	})
	if err != nil {
		return err
	}

	apiCfg := api.Config{Prover: svc, Logger: logger}
	if cfg.EnableDebug {
		apiCfg.Keys = resolver
	}
	if circuit, err := api.LoadCircuit(artifacts); err != nil {
		logger.Warn("Verification disabled", "error", err)
	} else {
		apiCfg.Verify = circuit.Verify
		logger.Info("Loaded verifying key", "path", artifacts.VerifyingKey)
	}

	checks = append(checks,
		health.Check{Name: "prover", Check: coordinator.Ready},
		health.Check{Name: "jwks", Check: resolver.Healthy},
	)

	r := setupRouter(routes{
		api:     api.NewServer(apiCfg),
		health:  healthHandler(checks...),
		metrics: metricsHandler(reg),
	}, cfg, logger)

	initCtx, cancelInit := context.WithCancel(context.Background())
	defer cancelInit()
	go func() {
		logger.Info("Initializing prover", "slots", coordinator.Slots(), "circuit", artifacts.CCS)
		if err := coordinator.Init(initCtx); err != nil {
			logger.Error("Prover initialization failed", "error", err)
			return
		}
		logger.Info("Prover ready")
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", addr, "tls", cfg.EnableTLS)

		var err error
		if cfg.EnableTLS {
			err = httpServer.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	logger.Info("Shutting down server gracefully...")
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// selfCommand points a command template that starts with this binary's name
// at the running executable.
func selfCommand(tmpl string) string {
	fields := strings.Fields(tmpl)
	if len(fields) == 0 || fields[0] != "zklogin" {
		return tmpl
	}
	exe, err := os.Executable()
	if err != nil {
		return tmpl
	}
	fields[0] = exe
	return strings.Join(fields, " ")
}

func validateServeConfig(cfg *ServeConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}

	if cfg.EnableTLS {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert-file or key-file not provided")
		}
		if _, err := os.Stat(cfg.CertFile); err != nil {
			return fmt.Errorf("cert file not found: %s", cfg.CertFile)
		}
		if _, err := os.Stat(cfg.KeyFile); err != nil {
			return fmt.Errorf("key file not found: %s", cfg.KeyFile)
		}
	}

	if _, err := os.Stat(cfg.CircuitsDir); err != nil {
		return fmt.Errorf("circuits directory not found: %s", cfg.CircuitsDir)
	}
	if cfg.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if cfg.MaxRequestSize <= 0 {
		return fmt.Errorf("invalid max request size: %d", cfg.MaxRequestSize)
	}

	return nil
}
