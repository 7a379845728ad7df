package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/stevemurr/layerstore/config"
	"github.com/stevemurr/layerstore/database"
	"github.com/stevemurr/layerstore/handler"
)

const shutdownTimeout = 10 * time.Second

// corsMiddleware wraps an http.Handler with CORS headers.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	// Fast path: wildcard allows everything.
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range allowedOrigins {
				if o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// accessLog logs one line per request.
func accessLog(next http.Handler, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// loadDatabases registers the declarations from the config file, or the
// single store described by the environment when there is none.
func loadDatabases(db *database.Databases, settings config.Settings) error {
	if settings.ConfigPath != "" {
		cfg, err := config.Load(settings.ConfigPath)
		if err != nil {
			return err
		}
		db.AddDatabasesFrom(cfg)
		return nil
	}
	decl, err := settings.Declaration()
	if err != nil {
		return err
	}
	db.AddDatabasesFrom(map[string]any{"database": decl})
	return nil
}

func main() {
	settings := config.FromEnv()
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(settings.Level())

	db := database.New(nil, database.WithLogger(log))
	if err := loadDatabases(db, settings); err != nil {
		log.Fatal().Err(err).Msg("failed to load database configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, diag := range db.Init(ctx) {
		log.Warn().Str("reason", diag.String()).Msg("database unavailable")
	}
	if len(db.Connections()) == 0 {
		log.Warn().Msg("no database connected, serving in degraded mode")
	}

	h := handler.New(db, log)
	srv := &http.Server{
		Addr:    settings.Addr(),
		Handler: accessLog(corsMiddleware(h, settings.AllowedOrigins), log),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	log.Info().
		Str("addr", srv.Addr).
		Int("connections", len(db.Connections())).
		Msg("layerstore starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}

	for _, conn := range db.Connections() {
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("closing database")
		}
	}
}
