package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vetdesk/opd/internal/config"
	"github.com/vetdesk/opd/internal/domain/consent"
	"github.com/vetdesk/opd/internal/domain/scheduling"
	"github.com/vetdesk/opd/internal/domain/staff"
	"github.com/vetdesk/opd/internal/platform/auth"
	"github.com/vetdesk/opd/internal/platform/db"
	"github.com/vetdesk/opd/internal/platform/middleware"
	"github.com/vetdesk/opd/internal/platform/notification"
)

// notifierAdapter bridges the notification manager to the scheduling
// service's outbound channel, dropping the stored notification record.
type notifierAdapter struct {
	mgr *notification.NotificationManager
}

func (a *notifierAdapter) SendTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) error {
	_, err := a.mgr.SendFromTemplate(ctx, templateID, data, recipient)
	return err
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "opd-server",
		Short: "Veterinary OPD scheduling and record-consent API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the OPD API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// sweepCmd runs a single no-show sweep and exits, for cron-driven setups
// that prefer an external scheduler over the in-process ticker.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue scheduled/confirmed appointments as no-show",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
			svc := scheduling.NewService(
				scheduling.NewRepoPG(pool),
				staff.NewService(staff.NewRepoPG(pool)),
				workingHours(cfg),
				logger,
			)

			n, err := svc.SweepNoShows(ctx, cfg.NoShowGrace)
			if err != nil {
				return err
			}
			fmt.Printf("Marked %d appointment(s) as no-show.\n", n)
			return nil
		},
	}
}

func workingHours(cfg *config.Config) scheduling.WorkingHours {
	return scheduling.WorkingHours{
		MorningStart:   cfg.SlotMorningStart,
		MorningEnd:     cfg.SlotMorningEnd,
		AfternoonStart: cfg.SlotAfternoonStart,
		AfternoonEnd:   cfg.SlotAfternoonEnd,
	}
}

func consentScope(cfg *config.Config) consent.Scope {
	if cfg.ConsentScope == config.ScopeAppointment {
		return consent.ScopeAppointment
	}
	return consent.ScopePetDay
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.JWTSecret),
		}))
	}

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Notification channel (mock senders until a real SMS/email gateway
	// is configured; every send is recorded and inspectable via the API).
	notifyMgr := notification.NewNotificationManager(
		&notification.MockEmailSender{},
		&notification.MockSMSSender{},
		notification.NewTemplateEngine(),
	)
	notifyHandler := notification.NewNotificationHandler(notifyMgr)
	notifyHandler.RegisterRoutes(apiV1)

	// Staff assignments
	staffRepo := staff.NewRepoPG(pool)
	staffSvc := staff.NewService(staffRepo)
	staffHandler := staff.NewHandler(staffSvc, cfg.DefaultEntityID)
	staffHandler.RegisterRoutes(apiV1)

	// Appointment scheduling
	schedRepo := scheduling.NewRepoPG(pool)
	schedSvc := scheduling.NewService(schedRepo, staffSvc, workingHours(cfg), logger)
	schedSvc.SetNotifier(&notifierAdapter{mgr: notifyMgr})
	schedHandler := scheduling.NewHandler(schedSvc, cfg.DefaultEntityID)
	schedHandler.RegisterRoutes(apiV1)

	// EMR consent gate
	consentRepo := consent.NewRepoPG(pool)
	consentSvc := consent.NewService(consentRepo, schedSvc, notifyMgr, consent.Config{
		Scope:       consentScope(cfg),
		OTPLength:   cfg.OTPLength,
		OTPTTL:      cfg.OTPTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
	}, logger)
	consentHandler := consent.NewHandler(consentSvc)
	consentHandler.RegisterRoutes(apiV1)

	// Completing a consultation closes the record-write window.
	schedSvc.SetConsentRevoker(consentSvc)

	// Background no-show sweep
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	if cfg.NoShowSweepInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.NoShowSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-sweepCtx.Done():
					return
				case <-ticker.C:
					n, err := schedSvc.SweepNoShows(sweepCtx, cfg.NoShowGrace)
					if err != nil {
						logger.Error().Err(err).Msg("no-show sweep failed")
						continue
					}
					if n > 0 {
						logger.Info().Int("count", n).Msg("marked overdue appointments as no-show")
					}
				}
			}
		}()
		logger.Info().Dur("interval", cfg.NoShowSweepInterval).Msg("no-show sweep enabled")
	}

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
