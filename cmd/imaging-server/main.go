package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/imaging/internal/config"
	"github.com/ehr/imaging/internal/domain/account"
	"github.com/ehr/imaging/internal/domain/catalog"
	"github.com/ehr/imaging/internal/domain/exam"
	"github.com/ehr/imaging/internal/domain/patient"
	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
	"github.com/ehr/imaging/internal/platform/db"
	"github.com/ehr/imaging/internal/platform/export"
	"github.com/ehr/imaging/internal/platform/middleware"
	"github.com/ehr/imaging/internal/platform/reporting"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "imaging-server",
		Short: "Imaging department records API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(adminCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func openPool(ctx context.Context, cfg *config.Config, schema string) (*pgxpool.Pool, error) {
	if schema == "" {
		schema = cfg.DBSchema
	}
	return db.NewPool(ctx, cfg.DatabaseURL, schema, cfg.DBMaxConns, cfg.DBMinConns)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if schema == "" {
				schema = cfg.DBSchema
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, schema)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if schema == "" {
				schema = cfg.DBSchema
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, schema)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
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
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator account without the registration secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in account.NewAccount
			in.NationalID, _ = cmd.Flags().GetString("national-id")
			in.FullName, _ = cmd.Flags().GetString("name")
			in.Email, _ = cmd.Flags().GetString("email")
			in.Password, _ = cmd.Flags().GetString("password")
			if in.Password == "" {
				in.Password = os.Getenv("ADMIN_PASSWORD")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := openPool(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg.Env, os.Stderr)
			accounts, _ := buildServices(cfg, pool, logger)
			acc, err := accounts.Bootstrap(ctx, in)
			if err != nil {
				return fmt.Errorf("create administrator: %w", err)
			}
			fmt.Printf("Administrator %s created with id %s\n", acc.Email, acc.ID)
			return nil
		},
	}
	createCmd.Flags().String("national-id", "", "RUT of the administrator")
	createCmd.Flags().String("name", "", "Full name")
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Password (or ADMIN_PASSWORD)")
	_ = createCmd.MarkFlagRequired("national-id")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("email")
	cmd.AddCommand(createCmd)

	return cmd
}

type services struct {
	patients *patient.Service
	catalogs *catalog.Service
	exams    *exam.Service
	reports  *reporting.Service
	exporter *export.Exporter
	tokens   *auth.TokenIssuer
}

func buildServices(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*account.Service, *services) {
	tx := db.NewTxRunner(pool)
	tokens := auth.NewTokenIssuer(cfg.SecretKey, cfg.TokenTTL())

	patientSvc := patient.NewService(patient.NewRepo(pool))
	examSvc := exam.NewService(exam.NewRepo(pool), patientSvc, tx, logger)
	accountSvc := account.NewService(account.NewRepo(pool), examSvc, tx, tokens,
		auth.NewHasher(cfg.BcryptCost), cfg.AdminSecretKey, logger)

	catalogSvc := catalog.NewService(catalog.NewRepo(pool))

	return accountSvc, &services{
		patients: patientSvc,
		catalogs: catalogSvc,
		exams:    examSvc,
		reports:  reporting.NewService(reporting.NewRepo(pool)),
		exporter: export.NewExporter(examSvc, catalogSvc, cfg.Location(), logger),
		tokens:   tokens,
	}
}

// newServer assembles middleware and routes. It does not touch the database.
func newServer(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *echo.Echo {
	accountSvc, svc := buildServices(cfg, pool, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{HSTS: cfg.IsProduction()}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID},
		ExposeHeaders:    []string{echo.HeaderContentDisposition},
		AllowCredentials: true,
	}))
	e.Use(echomw.BodyLimit("1M"))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	e.Use(middleware.RateLimit(rateLimitCfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))

	accountHandler := account.NewHandler(accountSvc)
	accountHandler.RegisterPublicRoutes(e)

	api := e.Group("/api/v1")
	api.Use(auth.Authenticate(svc.tokens, accountSvc, auth.AuthSkipper))

	accountHandler.RegisterRoutes(api)
	patient.NewHandler(svc.patients).RegisterRoutes(api)
	catalog.NewHandler(svc.catalogs).RegisterRoutes(api)
	exam.NewHandler(svc.exams).RegisterRoutes(api)
	reporting.NewHandler(svc.reports).RegisterRoutes(api)
	export.NewHandler(svc.exporter).RegisterRoutes(api)

	return e
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger = newLogger(cfg.Env, os.Stdout)

	ctx := context.Background()
	pool, err := openPool(ctx, cfg, "")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	if cfg.AdminSecretKey == "" {
		logger.Warn().Msg("ADMIN_SECRET_KEY is empty; administrator self-registration is disabled")
	}

	e := newServer(cfg, pool, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
