package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	api "github.com/mind-engage/certprep-core/internal/api/http"
	"github.com/mind-engage/certprep-core/internal/attempt"
	auth "github.com/mind-engage/certprep-core/internal/auth/middleware"
	"github.com/mind-engage/certprep-core/internal/config"
	"github.com/mind-engage/certprep-core/internal/db"
	"github.com/mind-engage/certprep-core/internal/exam"
	"github.com/mind-engage/certprep-core/internal/license"
	"github.com/mind-engage/certprep-core/internal/paywall"
	syncx "github.com/mind-engage/certprep-core/internal/sync"
)

func main() {
	bankFile := flag.String("bank", "", "YAML exam bank to load before serving")
	flag.Parse()

	// .env is optional; real env always wins.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[Gateway] .env: %v", err)
	}
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		log.Fatalf("db driver: %v", err)
	}
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, driver, cfg.DBDSN)
	cancel()
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	defer dbh.Close()

	bank := exam.NewSQLBank(dbh)
	if *bankFile != "" {
		n, err := loadBank(ctx, bank, *bankFile)
		if err != nil {
			log.Fatalf("load bank %s: %v", *bankFile, err)
		}
		log.Printf("[Gateway] loaded %d exam(s) from %s", n, *bankFile)
	}

	guard := license.NewGuard(license.NewSQLStore(dbh, driver), cfg.AutoUnlockWindow)
	events := syncx.NewEventRepo(dbh, os.Getenv("SITE_ID"))
	engine := attempt.NewEngine(attempt.NewSQLStore(dbh, driver), bank, guard, events)
	authSvc := auth.NewAuthService(cfg.AuthHMACSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", api.DeviceHeader},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.EnableLocalAuth {
		r.Post("/auth/login", auth.LoginHandler(authSvc, auth.LoginOptions{
			AdminUser:     cfg.AdminUser,
			AdminPassHash: cfg.AdminPassHash,
			AllowStudents: cfg.Mode == config.ModeOffline,
		}))
	}

	api.Mount(r, api.Deps{
		Auth:    authSvc,
		Engine:  engine,
		Guard:   guard,
		Bank:    bank,
		Paywall: paywall.NewGate(cfg.FreeQuestionLimit),
		Events:  events,
		DB:      dbh,
	})

	if cfg.AutoUnlockSweep > 0 {
		sw := &license.Sweeper{Guard: guard, Interval: cfg.AutoUnlockSweep}
		go sw.Run(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Printf("[Gateway] shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, driver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
