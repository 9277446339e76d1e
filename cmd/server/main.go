package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/Hillfoul007/cleancare-dispatch/internal/config"
	"github.com/Hillfoul007/cleancare-dispatch/internal/directory"
	"github.com/Hillfoul007/cleancare-dispatch/internal/dispatch"
	"github.com/Hillfoul007/cleancare-dispatch/internal/geocode"
	"github.com/Hillfoul007/cleancare-dispatch/internal/httpapi"
	"github.com/Hillfoul007/cleancare-dispatch/internal/ingest"
	"github.com/Hillfoul007/cleancare-dispatch/internal/ledger"
	"github.com/Hillfoul007/cleancare-dispatch/internal/logging"
	"github.com/Hillfoul007/cleancare-dispatch/internal/match"
	"github.com/Hillfoul007/cleancare-dispatch/internal/payments"
	"github.com/Hillfoul007/cleancare-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel, "server")

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var dir directory.Directory
	if cfg.RedisAddr != "" {
		dir = directory.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		dir = directory.NewMemory()
	}
	dir = directory.WithTimeout(dir, cfg.StoreTimeout)

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}
	store = storage.WithTimeout(store, cfg.StoreTimeout)

	eng := &match.Engine{Directory: dir, Limit: cfg.CandidateLimit}
	led := ledger.New(store, dir, logger)

	coord := dispatch.NewCoordinator(store, eng, dir, led, logger)
	coord.MaxRadiusKm = cfg.MaxSearchRadiusKm
	coord.TrackingAttempts = cfg.TrackingAttempts
	if cfg.StripeEnabled {
		coord.Payments = payments.NewStripeClient()
	}

	bookings := dispatch.NewBookingService(store, logger)
	bookings.CancelLead = cfg.BookingCancelLead
	bookings.EditLead = cfg.BookingEditLead

	var heartbeats httpapi.HeartbeatPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		heartbeats = kp
	}

	var geocoder geocode.Geocoder
	if cfg.GoogleMapsAPIKey != "" {
		g, err := geocode.NewGoogleGeocoder(cfg.GoogleMapsAPIKey)
		if err != nil {
			logger.Error("geocoder init failed", "error", err)
			os.Exit(1)
		}
		geocoder = g
	}

	api := httpapi.NewServer(httpapi.Deps{
		Coordinator: coord,
		Bookings:    bookings,
		Ledger:      led,
		Match:       eng,
		Directory:   dir,
		Kafka:       heartbeats,
		Geocoder:    geocoder,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("dispatch api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_dispatch.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
