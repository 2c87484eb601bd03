package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rewardjar/internal/app"
	"rewardjar/internal/domain"
	"rewardjar/internal/queue"
	"rewardjar/internal/repo"
)

func queueCmd() *cobra.Command {
	q := &cobra.Command{Use: "queue", Short: "Inspect and operate the wallet request queue"}
	q.AddCommand(queueEnqueueCmd())
	q.AddCommand(queueListCmd())
	q.AddCommand(queueShowCmd())
	q.AddCommand(queueStatsCmd())
	q.AddCommand(queueHealthCmd())
	q.AddCommand(queueActionCmd(queue.ActionRetry, "Move failed or dead-lettered requests back to pending"))
	q.AddCommand(queueActionCmd(queue.ActionForce, "Mark requests completed without an artifact"))
	q.AddCommand(queueActionCmd(queue.ActionFail, "Mark pending or processing requests failed"))
	q.AddCommand(queueActionCmd(queue.ActionCancel, "Cancel pending requests"))
	q.AddCommand(queuePurgeCmd())
	q.AddCommand(queueWaitCmd())
	return q
}

func queueEnqueueCmd() *cobra.Command {
	var opts queue.EnqueueOptions
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a wallet generation request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				opts.ActorID = viper.GetString("actor-id")
				opts.Source = "cli"
				req, coalesced, err := a.Queue.Enqueue(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"request": req, "coalesced": coalesced})
				}
				if coalesced {
					fmt.Printf("coalesced into pending request %s (%s)\n", req.ID, req.Priority)
					return nil
				}
				fmt.Printf("queued %s for %s\n", req.ID, req.Platform)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.CardID, "card", "", "card template id")
	cmd.Flags().StringVar(&opts.CustomerID, "customer", "", "customer id")
	cmd.Flags().StringVar(&opts.Platform, "platform", "", "apple, google or pwa")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "low, normal or high")
	_ = cmd.MarkFlagRequired("card")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func queueListCmd() *cobra.Command {
	var f repo.RequestFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List wallet requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				items, err := a.Queue.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printRequests(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Platform, "platform", "", "platform filter")
	cmd.Flags().StringVar(&f.CardID, "card", "", "card template filter")
	cmd.Flags().StringVar(&f.CustomerID, "customer", "", "customer filter")
	cmd.Flags().StringVar(&f.Source, "source", "", "source filter, e.g. simulator")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func printRequests(items []domain.WalletRequest) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Platform", "Priority", "Status", "Retries", "Created", "Error"})
	for _, r := range items {
		tw.AppendRow(table.Row{r.ID, r.Platform, r.Priority, r.Status, r.RetryCount, r.CreatedAt, truncate(r.ErrorMessage, 48)})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "total", len(items)})
	tw.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func queueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request and its event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				req, err := a.Queue.Get(ctx, args[0])
				if err != nil {
					return err
				}
				history, err := a.Queue.History(ctx, req.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"request": req, "events": history})
				}
				printRequests([]domain.WalletRequest{req})
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Event", "Time", "Actor", "Payload"})
				for _, e := range history {
					tw.AppendRow(table.Row{e.Type, e.TS, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func queueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count requests by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				st, err := a.Queue.Stats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pending", "Processing", "Completed", "Failed", "Cancelled", "Dead letter", "Total"})
				tw.AppendRow(table.Row{st.Pending, st.Processing, st.Completed, st.Failed, st.Cancelled, st.DeadLetter, st.Total})
				tw.Render()
				return nil
			})
		},
	}
}

func queueHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report queue health and recommended actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				h, err := a.Queue.Health(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(h)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"status", h.Status},
					{"queue length", h.QueueLength},
					{"processing", h.Processing},
					{"failed", h.Failed},
					{"dead letter", h.DeadLetter},
					{"oldest pending", (time.Duration(h.OldestPendingAgeSeconds) * time.Second).String()},
					{"success rate", fmt.Sprintf("%.1f%% of %d", h.SuccessRate, h.SampleSize)},
					{"avg processing", (time.Duration(h.AvgProcessingMillis) * time.Millisecond).String()},
					{"window", h.Window},
				})
				tw.Render()
				for _, r := range h.Recommendations {
					fmt.Println("-", r)
				}
				return nil
			})
		},
	}
}

func queueActionCmd(action, short string) *cobra.Command {
	var priority, reason string
	cmd := &cobra.Command{
		Use:   action + " <id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				res, err := a.Queue.Bulk(ctx, queue.BulkRequest{
					Action:   action,
					IDs:      args,
					Priority: priority,
					Reason:   reason,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printBulk(res)
			})
		},
	}
	switch action {
	case queue.ActionRetry:
		cmd.Flags().StringVar(&priority, "priority", "", "new priority for the retried requests")
	case queue.ActionForce:
		cmd.Flags().StringVar(&reason, "reason", "", "reason code recorded on the request")
		_ = cmd.MarkFlagRequired("reason")
	case queue.ActionFail:
		cmd.Flags().StringVar(&reason, "reason", "", "failure message")
	}
	return cmd
}

func printBulk(res queue.BulkResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	if len(res.Results) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"ID", "OK", "Status", "Error"})
		for _, r := range res.Results {
			tw.AppendRow(table.Row{r.ID, r.OK, r.Status, r.Error})
		}
		tw.Render()
	}
	fmt.Println(res.Message)
	return nil
}

func queuePurgeCmd() *cobra.Command {
	var status string
	var olderThan time.Duration
	var stale bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete old terminal requests, or reap stale processing ones with --stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				actor := viper.GetString("actor-id")
				if stale {
					res, err := a.Queue.Bulk(ctx, queue.BulkRequest{Action: queue.ActionReapStale, ActorID: actor})
					if err != nil {
						return err
					}
					return printBulk(res)
				}
				st, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("older-than") {
					switch st {
					case domain.StatusCompleted:
						olderThan = a.Config.Queue.CompletedRetention
					case domain.StatusFailed:
						olderThan = a.Config.Queue.FailedRetention
					}
				}
				n, err := a.Queue.Purge(ctx, st, olderThan, actor)
				if err != nil {
					return err
				}
				fmt.Printf("removed %d %s requests older than %s\n", n, st, olderThan)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", string(domain.StatusCompleted), "terminal status to purge")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "minimum age (default: configured retention)")
	cmd.Flags().BoolVar(&stale, "stale", false, "reap requests stuck in processing instead")
	return cmd
}

func queueWaitCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <id>",
		Short: "Block until a request is terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				req, err := a.Queue.Wait(ctx, args[0], timeout, 0)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(req)
				}
				printRequests([]domain.WalletRequest{req})
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "maximum wait (default: configured wait timeout)")
	return cmd
}
