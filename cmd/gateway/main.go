package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"defense-gateway/adminapi"
	"defense-gateway/middleware/admission"
	"defense-gateway/middleware/admission/domain"
	"defense-gateway/middleware/admission/infra"
	"defense-gateway/telemetry"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatalf("invalid UPSTREAM_URL: %v", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("proxy error: %v", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// registro de exclusão + backend de filtro de pacotes (perfil hard)
	regOpts := []infra.RegistryOption{infra.WithSweepEvery(cfg.cleanupEvery)}
	if cfg.profile == "hard" {
		filter := infra.NewIPSetFilter(cfg.firewallSet)
		setupCtx, setupCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := filter.EnsureSet(setupCtx); err != nil {
			log.Printf("firewall: ensure set: %v (continuing local-only)", err)
		}
		setupCancel()
		regOpts = append(regOpts, infra.WithPacketFilter(filter))
	}
	registry := infra.NewRegistry(regOpts...)

	importCtx, importCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := registry.ImportBackend(importCtx); err != nil {
		log.Printf("firewall: import block set: %v (continuing local-only)", err)
	}
	importCancel()

	banFor := cfg.banSeconds
	if cfg.banPermanent {
		banFor = 0
	}
	escalator := infra.NewViolationEscalator(registry, cfg.banThreshold, banFor, tierFor(cfg.profile),
		infra.WithEscalatorIdleTTL(cfg.idleTTL),
		infra.WithEscalatorCleanupEvery(cfg.cleanupEvery),
	)
	registry.SetOnExpire(escalator.Reset)

	registry.StartJanitor(ctx)
	escalator.StartJanitor(ctx)

	gate := infra.NewCounterGate(cfg.globalConcurrency, cfg.perIPConcurrency)

	var limiters domain.LimiterStore
	switch cfg.rateStrategy {
	case "window":
		win := infra.NewWindowStore(cfg.windowSeconds, cfg.windowMaxRequests,
			infra.WithWindowIdleTTL(cfg.idleTTL),
			infra.WithWindowCleanupEvery(cfg.cleanupEvery),
		)
		win.StartJanitor(ctx)
		limiters = win
	default:
		bucket := infra.NewBucketStore(cfg.rateRPS, cfg.rateBurst,
			infra.WithBucketIdleTTL(cfg.idleTTL),
			infra.WithBucketCleanupEvery(cfg.cleanupEvery),
		)
		bucket.StartJanitor(ctx)
		limiters = bucket
	}

	var statsStore domain.StatsStore
	if cfg.rateStatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.rateStatsRedisAddr,
			Password: cfg.rateStatsRedisPassword,
			DB:       cfg.rateStatsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			log.Fatalf("redis stats ping error: %v", err)
		}

		statsStore = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		)
	}

	// telemetria: tarefa periódica independente, fora do caminho de admissão
	sampler := telemetry.NewSampler()
	sinks := []telemetry.Sink{}
	if cfg.metricsCSV != "" {
		csvSink, err := telemetry.NewCSVSink(cfg.metricsCSV)
		if err != nil {
			log.Fatalf("metrics csv error: %v", err)
		}
		defer func() { _ = csvSink.Close() }()
		sinks = append(sinks, csvSink)
	}
	go sampler.Run(ctx, cfg.metricsInterval, sinks...)

	h := admission.Middleware(admission.Options{
		Registry:            registry,
		Gate:                gate,
		Limiters:            limiters,
		Escalator:           escalator,
		Stats:               statsStore,
		KeyHeader:           cfg.rateKeyHeader,
		TrustProxyHeaders:   cfg.trustXFF,
		RetryAfter:          cfg.retryAfter,
		AddRateLimitHeaders: cfg.addHeaders,
	})(proxy)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	adminSrv := &http.Server{
		Addr: cfg.adminAddr,
		Handler: (&adminapi.Server{
			Registry: registry,
			Gate:     gate,
			Sampler:  sampler,
			Profile:  cfg.profile,
			BanFor:   banFor,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("admin api listening on %s (trusted network only)", cfg.adminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("admin server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = adminSrv.Shutdown(shutdownCtx)
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("gateway listening on %s -> %s", cfg.listenAddr, target)
	log.Printf("rate: strategy=%s rps=%.3f burst=%d window=%s max=%d keyHeader=%q trustXFF=%v",
		cfg.rateStrategy, cfg.rateRPS, cfg.rateBurst, cfg.windowSeconds, cfg.windowMaxRequests, cfg.rateKeyHeader, cfg.trustXFF)
	log.Printf("concurrency: global=%d perIP=%d", cfg.globalConcurrency, cfg.perIPConcurrency)
	log.Printf("mitigation: profile=%s banThreshold=%d banFor=%s permanent=%v firewallSet=%q",
		cfg.profile, cfg.banThreshold, cfg.banSeconds, cfg.banPermanent, cfg.firewallSet)
	log.Printf("rate-stats: enabled=%v redisAddr=%q bucket=%q ttl=%s trackKeys=%v",
		cfg.rateStatsEnabled, cfg.rateStatsRedisAddr, cfg.rateStatsBucket, cfg.rateStatsTTL, cfg.rateStatsTrackKeys)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func tierFor(profile string) domain.Tier {
	if profile == "hard" {
		return domain.TierHard
	}
	return domain.TierSoft
}

type config struct {
	listenAddr  string
	adminAddr   string
	upstreamURL string

	rateStrategy      string // "bucket" ou "window"
	rateRPS           float64
	rateBurst         int
	windowSeconds     time.Duration
	windowMaxRequests int
	rateKeyHeader     string
	trustXFF          bool
	retryAfter        time.Duration
	addHeaders        bool

	perIPConcurrency  int
	globalConcurrency int

	banThreshold int
	banSeconds   time.Duration
	banPermanent bool
	profile      string // "soft" ou "hard"
	firewallSet  string

	idleTTL      time.Duration
	cleanupEvery time.Duration

	metricsCSV      string
	metricsInterval time.Duration

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackKeys     bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.adminAddr = getenvDefault("ADMIN_ADDR", "127.0.0.1:8090")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")

	cfg.rateStrategy = strings.ToLower(getenvDefault("RATE_STRATEGY", "bucket"))
	cfg.rateRPS = getenvFloatDefault("RATE_RPS", 10)
	// IMPORTANTE: o "burst" permite uma rajada inicial de requisições.
	// Com RPS muito baixo (ex: 0.02), o padrão 20 pode dar a impressão de que
	// o limiter não está funcionando, porque as primeiras ~20 passam.
	if burst, ok := getenvInt("RATE_BURST"); ok {
		cfg.rateBurst = burst
	} else {
		cfg.rateBurst = 20
		if getenvIsSet("RATE_RPS") && cfg.rateRPS > 0 && cfg.rateRPS < 1 {
			cfg.rateBurst = 1
		}
	}
	cfg.windowSeconds = getenvDurationDefault("RATE_WINDOW", 10*time.Second)
	cfg.windowMaxRequests = getenvIntDefault("RATE_WINDOW_MAX", 12)
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.retryAfter = getenvDurationDefault("RETRY_AFTER", 1*time.Second)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)

	cfg.perIPConcurrency = getenvIntDefault("CONN_LIMIT_PER_IP", 6)
	cfg.globalConcurrency = getenvIntDefault("GLOBAL_CONCURRENT_LIMIT", 80)

	cfg.banThreshold = getenvIntDefault("BAN_THRESHOLD", 4)
	cfg.banSeconds = getenvDurationDefault("BAN_SECONDS", 120*time.Second)
	cfg.banPermanent = getenvBoolDefault("BAN_PERMANENT", false)
	cfg.profile = strings.ToLower(getenvDefault("PROFILE", "soft"))
	cfg.firewallSet = getenvDefault("FIREWALL_IPSET", "defense-gateway")

	cfg.idleTTL = getenvDurationDefault("IDLE_TTL", 15*time.Minute)
	cfg.cleanupEvery = getenvDurationDefault("CLEANUP_EVERY", 2*time.Minute)

	cfg.metricsCSV = getenvDefault("METRICS_CSV", "metrics.csv")
	cfg.metricsInterval = getenvDurationDefault("METRICS_INTERVAL", 5*time.Second)

	cfg.rateStatsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsRedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", "")
	cfg.rateStatsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	cfg.rateStatsRedisDB = getenvIntDefault("RATE_STATS_REDIS_DB", 0)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "admission:stats")
	cfg.rateStatsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.rateStrategy != "bucket" && cfg.rateStrategy != "window" {
		return config{}, errors.New("RATE_STRATEGY must be bucket or window")
	}
	if cfg.profile != "soft" && cfg.profile != "hard" {
		return config{}, errors.New("PROFILE must be soft or hard")
	}
	if cfg.rateRPS <= 0 {
		return config{}, errors.New("RATE_RPS must be > 0")
	}
	if cfg.rateBurst <= 0 {
		return config{}, errors.New("RATE_BURST must be > 0")
	}
	if cfg.windowSeconds <= 0 || cfg.windowMaxRequests <= 0 {
		return config{}, errors.New("RATE_WINDOW and RATE_WINDOW_MAX must be > 0")
	}
	if cfg.perIPConcurrency < 0 || cfg.globalConcurrency < 0 {
		return config{}, errors.New("concurrency limits must be >= 0")
	}
	if cfg.banThreshold < 0 {
		return config{}, errors.New("BAN_THRESHOLD must be >= 0")
	}
	if cfg.metricsInterval <= 0 {
		return config{}, errors.New("METRICS_INTERVAL must be > 0")
	}
	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		return config{}, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvInt(k string) (int, bool) {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func getenvIsSet(k string) bool {
	v, ok := os.LookupEnv(k)
	return ok && v != ""
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
