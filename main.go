package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/pflag"

	_ "github.com/jackc/pgx/v5/stdlib"

	apihttp "groundcontrol/internal/api/http"
	"groundcontrol/internal/audit"
	"groundcontrol/internal/auth"
	commandsapp "groundcontrol/internal/commands/application"
	commandshttp "groundcontrol/internal/commands/interfaces/http"
	"groundcontrol/internal/eventing"
	flightsapp "groundcontrol/internal/flights/application"
	flights "groundcontrol/internal/flights/domain"
	flightsmemory "groundcontrol/internal/flights/infrastructure/memory"
	flightspostgres "groundcontrol/internal/flights/infrastructure/postgres"
	flightshttp "groundcontrol/internal/flights/interfaces/http"
	"groundcontrol/internal/migrations"
	"groundcontrol/internal/observability/metrics"
	telemetryapp "groundcontrol/internal/telemetry/application"
	telemetry "groundcontrol/internal/telemetry/domain"
	telemetrymemory "groundcontrol/internal/telemetry/infrastructure/memory"
	telemetrypostgres "groundcontrol/internal/telemetry/infrastructure/postgres"
	telemetryhttp "groundcontrol/internal/telemetry/interfaces/http"
	"groundcontrol/internal/telemetry/interfaces/live"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(cfg, os.Args[2:], os.Stdout); err != nil {
			logger.Fatalf("token error: %v", err)
		}
		return
	}

	var (
		db          *sql.DB
		flightRepo  flights.Repository
		logRepo     telemetry.Repository
		auditLogger audit.Logger
	)
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := migrations.Up(cfg.DatabaseURL); err != nil {
				logger.Fatalf("migration error: %v", err)
			}
		}
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		flightRepo = flightspostgres.NewFlightRepository(db)
		logRepo = telemetrypostgres.NewLogRepository(db)
		auditLogger = audit.NewRepository(db)
	} else {
		logger.Printf("warning: DATABASE_URL not set, flights and logs are kept in memory")
		flightRepo = flightsmemory.NewFlightRepository()
		logRepo = telemetrymemory.NewLogRepository()
	}
	metrics.Init(db, logger)

	bus := eventing.NewInMemoryBus()
	commandService, err := commandsapp.NewService(commandsapp.NewQueue(), bus,
		commandsapp.WithPollTimeout(cfg.PollTimeout),
		commandsapp.WithAckTimeout(cfg.AckTimeout),
		commandsapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("command service error: %v", err)
	}
	commandHandler, err := commandshttp.NewHandler(commandService, auditLogger, logger)
	if err != nil {
		logger.Fatalf("command handler error: %v", err)
	}

	broker := live.NewBroker(logger)
	ingestService, err := telemetryapp.NewIngestService(logRepo, broker, logger)
	if err != nil {
		logger.Fatalf("ingest service error: %v", err)
	}
	logHandler, err := telemetryhttp.NewHandler(ingestService, logger)
	if err != nil {
		logger.Fatalf("log handler error: %v", err)
	}

	flightService, err := flightsapp.NewService(flightRepo, []byte(cfg.JWTSecret), cfg.DeviceTokenTTL,
		flightsapp.WithPublicURL(cfg.PublicURL),
	)
	if err != nil {
		logger.Fatalf("flight service error: %v", err)
	}
	flightHandler, err := flightshttp.NewHandler(flightService, auditLogger, logger)
	if err != nil {
		logger.Fatalf("flight handler error: %v", err)
	}

	mux := http.NewServeMux()
	flightHandler.Register(mux)
	commandHandler.Register(mux)
	logHandler.Register(mux)
	mux.Handle("GET /api/live", live.NewSocketHandler(broker, cfg.CORSOrigins, logger))
	mux.Handle("GET /api/live/stream", live.NewStreamHandler(broker))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		apihttp.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "viewers": broker.Viewers()})
	})

	policy := auth.NewDefaultPolicy([]string{"/api/health", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	var handler http.Handler = authMiddleware.Wrap(mux)
	if len(cfg.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}).Handler(handler)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go pruneLoop(ctx, commandService, cfg.CommandRetention, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		logger.Printf("http shutting down")
		broker.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
		bus.Close()
	}()

	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http server error: %v", err)
	}
}

func pruneLoop(ctx context.Context, service *commandsapp.Service, retention time.Duration, logger *log.Logger) {
	if retention <= 0 {
		return
	}
	interval := retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := service.PruneDelivered(retention); n > 0 {
				logger.Printf("commands: pruned %d stale delivered commands", n)
			}
		}
	}
}

// runToken prints a signed token for an operator, viewer, admin or device.
func runToken(cfg config, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	subject := fs.String("sub", "", "token subject (user id, or flight id for devices)")
	roleName := fs.String("role", string(auth.RoleOperator), "viewer, operator, admin or device")
	ttl := fs.Duration("ttl", cfg.OperatorTokenTTL, "token lifetime, 0 for no expiry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("--sub is required")
	}
	role, ok := auth.NormalizeRole(*roleName)
	if !ok {
		return fmt.Errorf("unknown role %q", *roleName)
	}
	if role == auth.RoleDevice && *ttl == cfg.OperatorTokenTTL {
		*ttl = cfg.DeviceTokenTTL
	}
	token, err := auth.IssueToken([]byte(cfg.JWTSecret), *subject, role, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: hijack not supported")
	}
	w.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
