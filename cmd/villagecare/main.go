package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/villagecare/villagecare/internal/config"
	"github.com/villagecare/villagecare/internal/domain/notification"
	"github.com/villagecare/villagecare/internal/domain/user"
	"github.com/villagecare/villagecare/internal/platform/auth"
	"github.com/villagecare/villagecare/internal/platform/db"
	"github.com/villagecare/villagecare/internal/platform/sandbox"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "villagecare",
		Short:         "Village healthcare case routing service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(seedCmd())
	return rootCmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// openDB loads and validates configuration and opens the pool.
func openDB(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
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
			ctx := cmd.Context()
			cfg, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			dir, schema := migrateTarget(cmd, cfg)
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := db.EnsureSchema(ctx, pool, schema, dir)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			dir, schema := migrateTarget(cmd, cfg)
			if !db.ValidSchemaName(schema) {
				return fmt.Errorf("invalid schema name: %s", schema)
			}
			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.Modified {
						status = "modified"
					}
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	cmd.PersistentFlags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.PersistentFlags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")

	return cmd
}

func migrateTarget(cmd *cobra.Command, cfg *config.Config) (dir, schema string) {
	dir, _ = cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	schema, _ = cmd.Flags().GetString("schema")
	if schema == "" {
		schema = cfg.DBSchema
	}
	return dir, schema
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account with any role (bootstrap admins, officers and doctors)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in user.RegisterInput
			in.Name, _ = cmd.Flags().GetString("name")
			in.Email, _ = cmd.Flags().GetString("email")
			in.Password, _ = cmd.Flags().GetString("password")
			in.Role, _ = cmd.Flags().GetString("role")
			in.Village, _ = cmd.Flags().GetString("village")
			in.Phone, _ = cmd.Flags().GetString("phone")
			if in.Password == "" {
				in.Password = os.Getenv("VILLAGECARE_PASSWORD")
			}

			ctx := cmd.Context()
			cfg, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg.Env)
			svc := user.NewService(user.NewRepo(pool), nil, cfg.BcryptCost, logger)
			u, err := svc.Create(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s account %d for %s\n", u.Role, u.ID, u.Email)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Full name")
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Password (or set VILLAGECARE_PASSWORD)")
	createCmd.Flags().String("role", auth.RoleAdmin, "villager, avms, doctor or admin")
	createCmd.Flags().String("village", "", "Village (required for villagers)")
	createCmd.Flags().String("phone", "", "Phone number")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("email")

	cmd.AddCommand(createCmd)
	return cmd
}

func notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Maintain notifications",
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete read notifications older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			window := cfg.RetentionWindow()
			if days, _ := cmd.Flags().GetInt("days"); days > 0 {
				window = time.Duration(days) * 24 * time.Hour
			}

			svc := notification.NewService(notification.NewRepo(pool), nil, newLogger(cfg.Env))
			n, err := svc.Prune(ctx, window)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d read notification(s).\n", n)
			return nil
		},
	}
	pruneCmd.Flags().Int("days", 0, "Override NOTIFICATION_RETENTION_DAYS")
	cmd.AddCommand(pruneCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo accounts and cases for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if cfg.IsProduction() {
				return fmt.Errorf("refusing to seed demo data in production")
			}

			sc := sandbox.DefaultSeedConfig()
			sc.VillagersPerVillage, _ = cmd.Flags().GetInt("villagers")
			sc.ProblemsPerVillager, _ = cmd.Flags().GetInt("problems")
			sc.Doctors, _ = cmd.Flags().GetInt("doctors")
			sc.Seed, _ = cmd.Flags().GetInt64("seed")
			if villages, _ := cmd.Flags().GetStringSlice("villages"); len(villages) > 0 {
				sc.Villages = villages
			}
			if password, _ := cmd.Flags().GetString("password"); password != "" {
				sc.Password = password
			}

			logger := newLogger(cfg.Env)
			svc := newServices(cfg, logger, newPostgresApp(pool, nil), nil)
			res, err := sandbox.NewSeeder(svc.users, svc.problems, svc.consultations, sc, logger).Generate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d villagers, %d officers, %d doctors and %d problems (%d answered) in %s.\n",
				res.Villagers, res.Officers, res.Doctors, res.Problems, res.Responses, res.Duration)
			fmt.Fprintf(cmd.OutOrStdout(), "All demo accounts use the password %q.\n", sc.Password)
			return nil
		},
	}
	defaults := sandbox.DefaultSeedConfig()
	cmd.Flags().Int("villagers", defaults.VillagersPerVillage, "Villagers per village")
	cmd.Flags().Int("problems", defaults.ProblemsPerVillager, "Problems per villager")
	cmd.Flags().Int("doctors", defaults.Doctors, "Doctors")
	cmd.Flags().StringSlice("villages", defaults.Villages, "Villages to populate")
	cmd.Flags().String("password", "", "Password for every demo account")
	cmd.Flags().Int64("seed", 0, "Random seed for reproducible data (0 picks one)")
	return cmd
}

func runServer() error {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	photos, err := newPhotoStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up photo storage")
	}

	a := newPostgresApp(pool, photos)
	e := newServer(cfg, logger, a)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("photo_store", cfg.PhotoStore).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
