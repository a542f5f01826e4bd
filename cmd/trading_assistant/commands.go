package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"trading_assistant/internal/api"
	"trading_assistant/internal/config"
	"trading_assistant/internal/logger"
	"trading_assistant/internal/notifications"

	"github.com/spf13/cobra"
)

type cli struct {
	configPath string
	debug      bool
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "trading_assistant",
		Short:         "Sentiment-driven trading assistant with feedback learning",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.load()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		c.runCmd(),
		c.analyzeCmd(),
		c.sentimentCmd(),
		c.executeCmd(),
		c.optimizeCmd(),
		c.feedbackCmd(),
		c.cleanupCmd(),
		c.backupCmd(),
		c.ordersCmd(),
		c.authCmd(),
		c.configCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), readVersion())
			},
		},
	)
	return root
}

func (c *cli) load() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	cfg.Version = readVersion()
	if c.debug {
		cfg.LogLevel = "debug"
	}
	logger.Setup(logger.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.MaxLogSizeMB,
		MaxBackups: cfg.MaxLogBackups,
		MaxAgeDays: cfg.MaxLogAgeDays,
		Compress:   true,
	})
	c.cfg = cfg
	return nil
}

// withApp builds the services for one command and tears them down afterwards.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := newApp(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the polling loop, Telegram listener and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, runLoop)
		},
	}
}

func runLoop(ctx context.Context, a *app) error {
	w := a.watcher
	logger.Infof("Trading Assistant %s initialized", a.cfg.Version)
	logger.Infof("Polling interval: %d mins, watchlist: %s", a.cfg.PollIntervalMins, strings.Join(a.cfg.Watchlist, ","))
	w.Startup(ctx)

	go a.bot.Listen(ctx, w)

	apiErr := make(chan error, 1)
	if a.cfg.HTTPAddr != "" {
		srv := api.New(a.store, a.feedback, w, a.learning)
		go func() { apiErr <- srv.Run(ctx, a.cfg.HTTPAddr) }()
	}

	w.Poll(ctx)

	interval := time.Duration(a.cfg.PollIntervalMins) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("Main loop stopping...")
			w.Shutdown(context.Background())
			return nil
		case err := <-apiErr:
			if err != nil {
				return fmt.Errorf("http api: %w", err)
			}
		case <-ticker.C:
			logger.Infof("Next check scheduled for: %s", time.Now().Add(interval).Format("2006-01-02 15:04:05 MST"))
			w.Poll(ctx)
		}
	}
}

func (c *cli) analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze SYMBOL",
		Short: "Score sentiment and record a decision for one symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				d, err := a.watcher.Analyze(ctx, strings.ToUpper(args[0]))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, notifications.FormatDecision(*d))
				fmt.Fprintf(out, "id: %s\n", d.ID)
				return nil
			})
		},
	}
}

func (c *cli) sentimentCmd() *cobra.Command {
	var symbols []string
	cmd := &cobra.Command{
		Use:   "sentiment",
		Short: "Score sentiment for the watchlist and store the records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				list := a.cfg.Watchlist
				if len(symbols) > 0 {
					list = upper(symbols)
				}
				records := a.analyzer.ScoreWatchlist(ctx, list, a.data, a.store)
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SYMBOL\tSCORE\tSOURCE\tSUMMARY")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%+.2f\t%s\t%s\n", r.Symbol, r.Score, r.Source, r.Summary)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "Symbols to score instead of the watchlist")
	return cmd
}

func (c *cli) executeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute",
		Short: "Place orders for pending decisions above the confidence threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				results, err := a.executor.ExecutePending(ctx)
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to execute.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "DECISION\tSYMBOL\tACTION\tQTY\tSTATUS\tDETAIL")
				for _, r := range results {
					detail := r.OrderID
					if r.Reason != "" {
						detail = r.Reason
					}
					if r.Err != nil {
						detail = r.Err.Error()
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.DecisionID, r.Symbol, r.Action, r.Quantity, r.Status, detail)
				}
				return tw.Flush()
			})
		},
	}
}

func (c *cli) optimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Derive a new learning context from recent feedback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				lc, changed, err := a.learning.Optimize(ctx, time.Now())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !changed {
					fmt.Fprintln(out, "No feedback in the learning window; context unchanged.")
					return nil
				}
				fmt.Fprintf(out, "Learning context v%d active: threshold %.2f, risk adjustment %.2f, accuracy %.0f%% (%d ratings)\n",
					lc.Version, lc.Parameters.ConfidenceThreshold, lc.Parameters.RiskAdjustment,
					lc.FeedbackSummary.AccuracyRate*100, lc.FeedbackSummary.Total)
				return nil
			})
		},
	}
}

func (c *cli) feedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback DECISION_ID GOOD|BAD|NEUTRAL [NOTES...]",
		Short: "Rate a past decision",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				d, err := a.feedback.Submit(ctx, args[0], args[1], strings.Join(args[2:], " "), time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Feedback %s recorded for %s %s (%s)\n", d.Feedback.Verdict, d.Type, d.Symbol, d.ID)
				return nil
			})
		},
	}
}

func (c *cli) cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete data older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.watcher.Cleanup(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d decisions, %d sentiment records, %d snapshots\n", res.Decisions, res.Sentiments, res.Snapshots)
				return nil
			})
		},
	}
}

func (c *cli) backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write a JSON backup of decisions and learning contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				path, err := a.watcher.Backup(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
}

func (c *cli) ordersCmd() *cobra.Command {
	orders := &cobra.Command{
		Use:   "orders",
		Short: "List or cancel broker orders",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List orders of the first open account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				key, err := a.accountKey(ctx)
				if err != nil {
					return err
				}
				list, err := a.broker.ListOrders(ctx, key, strings.ToUpper(status))
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSYMBOL\tSIDE\tQTY\tFILLED\tSTATUS\tCREATED")
				for _, o := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", o.ID, o.Symbol, o.Side, o.Qty, o.FilledQty, o.Status, o.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&status, "status", "OPEN", "Order status filter")

	cancel := &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				key, err := a.accountKey(ctx)
				if err != nil {
					return err
				}
				if err := a.broker.CancelOrder(ctx, key, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Order %s cancelled\n", args[0])
				return nil
			})
		},
	}

	orders.AddCommand(list, cancel)
	return orders
}

func (c *cli) authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize the E*TRADE session (valid until US Eastern midnight)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				return authorize(a, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

func authorize(a *app, in io.Reader, out io.Writer) error {
	if a.etrade == nil {
		return errors.New("auth is only needed for the etrade broker")
	}
	pending, err := a.etrade.StartAuth()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Open this URL, log in and approve access:\n\n  %s\n\nVerification code: ", pending.AuthorizeURL)

	verifier, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	verifier = strings.TrimSpace(verifier)
	if verifier == "" {
		return errors.New("no verification code entered")
	}
	if err := a.etrade.CompleteAuth(pending, verifier); err != nil {
		return err
	}
	fmt.Fprintln(out, "✅ E*TRADE session stored.")
	return nil
}

func (c *cli) configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, line := range c.cfg.Masked() {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
		},
	})
	return cfgCmd
}

func upper(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
