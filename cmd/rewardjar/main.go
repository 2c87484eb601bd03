package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rewardjar/internal/app"
	"rewardjar/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "rewardjar",
	Short: "RewardJar wallet pipeline",
	Long: `RewardJar turns loyalty cards into Apple Wallet passes, Google Wallet save links and installable web cards.
- Cards: stamp cards count stamps toward a reward; membership cards count sessions and may expire.
- Queue: wallet requests are enqueued per card, customer and platform, rendered by workers, retried with backoff and dead-lettered after the retry cap.
- Inspector: 'rewardjar queue' lists, retries, forces, fails, cancels and purges requests.
- Validation: 'rewardjar validate' checks a rendered artifact against the platform requirements.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REWARDJAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory holding rewardjar.yml and the sqlite database")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "cli", "actor recorded on queue events")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

// withApp opens the application for the duration of fn. Offline apps skip
// Redis and NATS.
func withApp(ctx context.Context, offline bool, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(cfg, app.Options{Workspace: viper.GetString("workspace"), Offline: offline})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func serveCmd() *cobra.Command {
	var addr string
	var workers int
	var relay bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, in-process workers and the event relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				return a.Run(ctx, app.RunOptions{Addr: addr, Serve: true, Workers: workers, Relay: relay})
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().IntVar(&workers, "workers", 1, "in-process queue workers")
	cmd.Flags().BoolVar(&relay, "relay", true, "relay events to NATS and webhooks")
	return cmd
}

func workerCmd() *cobra.Command {
	var count int
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run queue workers without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if once {
					w, release, err := a.Worker("cli")
					if err != nil {
						return err
					}
					defer release()
					n, err := w.RunOnce(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("processed %d requests\n", n)
					return nil
				}
				return a.Run(ctx, app.RunOptions{Workers: count})
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of workers")
	cmd.Flags().BoolVar(&once, "once", false, "process one batch and exit")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				fmt.Printf("database ready (%s)\n", a.Dialect)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Show or create configuration"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.Auth = config.AuthConfig{JWTSecret: mask(cfg.Auth.JWTSecret), TestToken: mask(cfg.Auth.TestToken)}
			redacted.Google.ServiceAccount = mask(cfg.Google.ServiceAccount)
			redacted.Apple.P12Password = mask(cfg.Apple.P12Password)
			redacted.Webhooks = make([]config.WebhookConfig, len(cfg.Webhooks))
			for i, w := range cfg.Webhooks {
				w.Secret = mask(w.Secret)
				redacted.Webhooks[i] = w
			}
			return printJSON(redacted)
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default rewardjar.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)
	return cfgCmd
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	return "***"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
