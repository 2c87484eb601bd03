package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rewardjar/internal/app"
	"rewardjar/internal/domain"
	"rewardjar/internal/server"
	"rewardjar/internal/validate"
	"rewardjar/internal/wallet"
)

func renderCmd() *cobra.Command {
	var customerCardID, cardID, customerID, platform, out string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a wallet artifact without the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := domain.ParsePlatform(platform)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				var in wallet.Input
				switch {
				case customerCardID != "":
					in, err = a.Loader.ForCustomerCard(ctx, customerCardID)
				case cardID != "":
					in, err = a.Loader.ForCard(ctx, cardID, customerID)
				default:
					return fmt.Errorf("--customer-card or --card required")
				}
				if err != nil {
					return err
				}
				art, err := a.Renderers.Render(ctx, p, in)
				if err != nil {
					return err
				}
				path := out
				if path == "" {
					path = art.Filename
				}
				if err := os.WriteFile(path, art.Body, 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s (%s, %d bytes)\n", path, art.ContentType, len(art.Body))
				if art.SaveURL != "" {
					fmt.Println("save url:", art.SaveURL)
				}
				return printReports([]validate.Report{validate.Check(p, art.Body)})
			})
		},
	}
	cmd.Flags().StringVar(&customerCardID, "customer-card", "", "customer card id")
	cmd.Flags().StringVar(&cardID, "card", "", "card template id")
	cmd.Flags().StringVar(&customerID, "customer", "", "customer id, with --card")
	cmd.Flags().StringVar(&platform, "platform", "pwa", "apple, google or pwa")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: artifact file name)")
	return cmd
}

func validateCmd() *cobra.Command {
	var platform, requestID string
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a wallet artifact against platform requirements",
		Long:  "Validate a file (.pkpass, Google save JWT or PWA HTML) or the stored artifact of a completed request.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID != "" {
				return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
					art, err := a.Queue.Artifact(ctx, requestID)
					if err != nil {
						return err
					}
					return printReports([]validate.Report{validate.Check(art.Platform, art.Body)})
				})
			}
			if len(args) != 1 {
				return fmt.Errorf("file or --request required")
			}
			body, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if platform == "" {
				platform = guessPlatform(args[0])
			}
			p, err := domain.ParsePlatform(platform)
			if err != nil {
				return err
			}
			return printReports([]validate.Report{validate.Check(p, body)})
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "apple, google or pwa (default: from the file extension)")
	cmd.Flags().StringVar(&requestID, "request", "", "validate the stored artifact of a request")
	return cmd
}

func guessPlatform(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pkpass":
		return string(domain.PlatformApple)
	case ".html", ".htm":
		return string(domain.PlatformPWA)
	case ".jwt", ".txt":
		return string(domain.PlatformGoogle)
	}
	return ""
}

func printReports(reports []validate.Report) error {
	sum := validate.Summarize(reports)
	if viper.GetBool("json") {
		return printJSON(sum)
	}
	for _, r := range reports {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetTitle(fmt.Sprintf("%s: %d%% complete", r.Platform, r.Completion))
		tw.AppendHeader(table.Row{"Check", "OK"})
		for _, c := range r.Checks {
			tw.AppendRow(table.Row{c.Name, c.OK})
		}
		tw.Render()
		for _, e := range r.Errors {
			fmt.Println("error:", e)
		}
		for _, w := range r.Warnings {
			fmt.Println("warning:", w)
		}
	}
	if !sum.Valid {
		return fmt.Errorf("validation failed")
	}
	return nil
}

func tokenCmd() *cobra.Command {
	var subject string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API bearer token with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret (JWT_SECRET) is required")
			}
			tok, err := server.SignToken(cfg.Auth.JWTSecret, subject, roles, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "actor id carried in the token")
	cmd.Flags().StringSliceVar(&roles, "role", []string{server.RoleAdmin}, "roles: admin, wallet")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
