package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcbagz/ladchat/ai/embedstore"
	"github.com/mcbagz/ladchat/internal/profile"
	"github.com/mcbagz/ladchat/internal/version"
	"github.com/mcbagz/ladchat/server"
	"github.com/mcbagz/ladchat/store"
	"github.com/mcbagz/ladchat/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:   "ladchat",
		Short: `Embedding-backed friend and event recommendations for LadChat.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// Systemd units provide their environment through EnvironmentFile.
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			setupLogger(viper.GetString("mode"))
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile, err := loadProfile()
			if err != nil {
				slog.Error("invalid configuration", "error", err)
				os.Exit(1)
			}

			ctx, cancel := context.WithCancel(context.Background())
			storeInstance, err := openStore(ctx, instanceProfile)
			if err != nil {
				cancel()
				printDatabaseError(err, instanceProfile)
				return
			}

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				cancel()
				slog.Error("failed to create server", "error", err)
				return
			}

			c := make(chan os.Signal, 1)
			signal.Notify(c, terminationSignals...)

			if err := s.Start(ctx); err != nil {
				slog.Error("failed to start server", "error", err)
				cancel()
				return
			}

			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			<-ctx.Done()
		},
	}

	backfillCmd = &cobra.Command{
		Use:   "backfill",
		Short: "Embed every entity that is missing or stale, then collect orphaned records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, engine *server.Engine, _ *store.Store) error {
				if !engine.Config.Enabled {
					return fmt.Errorf("backfill needs an embedding provider, set LADCHAT_EMBEDDING_API_KEY")
				}
				stats := engine.Scheduler.RunOnce(ctx)
				fmt.Printf("Refreshed %d, failed %d, reconciled %d, collected %d in %s\n",
					stats.Refreshed, stats.Failed, stats.Reconciled, stats.Collected, stats.Duration)
				return nil
			})
		},
	}

	reindexCmd = &cobra.Command{
		Use:   "reindex",
		Short: "Mirror durable embedding records into the vector index without calling the embedder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, engine *server.Engine, st *store.Store) error {
				source := embedstore.NewMetadataSource(st)
				for _, entityType := range store.EntityTypes {
					written, err := engine.Embeddings.Reconcile(ctx, entityType, source)
					if err != nil {
						return fmt.Errorf("reindex %s: %w", entityType, err)
					}
					fmt.Printf("%s: %d entries written\n", entityType, written)
				}
				return nil
			})
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("ladchat %s (commit %s, schema %s)\n",
				version.GetCurrentVersion(viper.GetString("mode")), version.GitCommit, version.SchemaVersion)
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, key := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("ladchat")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(backfillCmd, reindexCmd, versionCmd)
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

func openStore(ctx context.Context, instanceProfile *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return nil, err
	}
	storeInstance := store.New(dbDriver, instanceProfile)
	if err := storeInstance.Migrate(ctx); err != nil {
		storeInstance.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return storeInstance, nil
}

// withEngine runs a one-shot maintenance task against a fully wired engine.
func withEngine(ctx context.Context, fn func(context.Context, *server.Engine, *store.Store) error) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, terminationSignals...)
	defer stop()

	storeInstance, err := openStore(ctx, instanceProfile)
	if err != nil {
		printDatabaseError(err, instanceProfile)
		return err
	}
	defer storeInstance.Close()

	engine, err := server.NewEngine(ctx, instanceProfile, storeInstance)
	if err != nil {
		return err
	}
	defer engine.Close()

	return fn(ctx, engine, storeInstance)
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("LadChat recommendations %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Vector backend: %s\n", profile.VectorBackend)
	fmt.Printf("Mode: %s\n", profile.Mode)

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
	if !profile.AIEnabled {
		fmt.Println("No embedding provider configured: serving existing vectors only")
	}
}

// setupLogger logs JSON in prod and human-readable text with debug output otherwise.
func setupLogger(mode string) {
	if mode == "prod" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printDatabaseError provides user-friendly error messages for database connection issues
func printDatabaseError(err error, profile *profile.Profile) {
	slog.Error("failed to open database", "driver", profile.Driver, "error", err)

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL is not reachable. Start it, or run with --driver=sqlite --data=./data")
	case strings.Contains(errMsg, "SSL is not enabled") || strings.Contains(errMsg, "sslmode"):
		fmt.Fprintln(os.Stderr, "\nAdd ?sslmode=disable to LADCHAT_DSN")
	case strings.Contains(errMsg, "password authentication failed"):
		fmt.Fprintln(os.Stderr, "\nCheck the credentials in LADCHAT_DSN or .env")
	case strings.Contains(errMsg, "dsn required"):
		fmt.Fprintln(os.Stderr, "\nSet --dsn or LADCHAT_DSN")
	default:
		fmt.Fprintln(os.Stderr, "\nError:", errMsg)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
