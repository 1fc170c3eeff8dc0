package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/noticewatch/noticewatch/engine/announce"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

func newCollectCmd(c *cli) *cobra.Command {
	var (
		threshold    int
		maxPages     int
		includeExtra bool
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run the notices feed once and persist the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n := &c.cfg.Feeds.Notices
			if cmd.Flags().Changed("threshold") {
				n.Threshold = intPtr(threshold)
			}
			if cmd.Flags().Changed("max-pages") {
				n.MaxPages = maxPages
			}
			if includeExtra {
				c.cfg.IRIS.IncludeExtra = true
			}
			return c.runFeed(cmd, feedNotices)
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", 0, "minimum score kept (default from config)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "list pages read per source (default from config)")
	cmd.Flags().BoolVar(&includeExtra, "include-extra", false, "score IRIS notices with their body and attachment text")
	return cmd
}

func newEventsCmd(c *cli) *cobra.Command {
	var maxPages int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Run the events feed once and persist the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("max-pages") {
				c.cfg.Feeds.Events.MaxPages = maxPages
			}
			return c.runFeed(cmd, feedEvents)
		},
	}
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "list pages read per source (default from config)")
	return cmd
}

// runFeed wires the application and runs one feed in the foreground.
func (c *cli) runFeed(cmd *cobra.Command, name string) (err error) {
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close(context.WithoutCancel(ctx)))
	}()

	report, err := a.feedByName(name).agg.Run(ctx)
	if err != nil {
		return err
	}
	renderReport(cmd.OutOrStdout(), report)
	return nil
}

func feedFlag(cmd *cobra.Command, name *string) {
	cmd.Flags().StringVar(name, "feed", feedNotices, "feed to read: notices or events")
}

func checkFeed(name string) error {
	if name != feedNotices && name != feedEvents {
		return fmt.Errorf("unknown feed %q (want %s or %s)", name, feedNotices, feedEvents)
	}
	return nil
}

func newShowCmd(c *cli) *cobra.Command {
	var (
		name   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted bundle of a feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFeed(name); err != nil {
				return err
			}
			b, origin := openFeed(c.cfg, name, c.log).store.Load(cmd.Context())
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), b)
			}
			renderBundle(cmd.OutOrStdout(), b, origin)
			return nil
		},
	}
	feedFlag(cmd, &name)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the bundle as JSON")
	return cmd
}

func newSkippedCmd(c *cli) *cobra.Command {
	var (
		name  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "skipped",
		Short: "Print the latest skip-log entries of a feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFeed(name); err != nil {
				return err
			}
			entries, err := openFeed(c.cfg, name, c.log).skips.Tail(limit)
			if err != nil {
				return err
			}
			renderSkips(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	feedFlag(cmd, &name)
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to print")
	return cmd
}

func newExportCmd(c *cli) *cobra.Command {
	var name, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the persisted bundle of a feed to a spreadsheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFeed(name); err != nil {
				return err
			}
			b, _ := openFeed(c.cfg, name, c.log).store.Load(cmd.Context())
			if err := exportWorkbook(b, name, out); err != nil {
				return err
			}
			c.log.Info("Bundle exported", logger.String("feed", name), logger.String("path", out), logger.Int("items", len(b.Items)))
			return nil
		},
	}
	feedFlag(cmd, &name)
	cmd.Flags().StringVar(&out, "out", "", "spreadsheet path (.xlsx)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newWatchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print feed refresh announcements as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.NATS.URL == "" {
				return errors.New("watch needs nats.url (NATS_URL)")
			}
			nc, err := nats.Connect(c.cfg.NATS.URL, nats.Name("noticewatch-watch"))
			if err != nil {
				return fmt.Errorf("nats connect: %w", err)
			}
			defer nc.Close()

			out := cmd.OutOrStdout()
			sub, err := announce.Subscribe(nc, c.cfg.NATS.Subject, func(_ context.Context, ev announce.FeedRefreshed) {
				fmt.Fprintf(out, "%s  %s  %d items (run %s)\n", ev.GeneratedAt, ev.Feed, ev.Count, ev.RunID)
				for _, h := range ev.Top {
					fmt.Fprintf(out, "    [%s] %s %s\n", h.Source, h.Title, h.Link)
				}
			}, func(msg *nats.Msg, err error) {
				c.log.Warn("Ignoring malformed announcement", logger.String("subject", msg.Subject), logger.Error(err))
			})
			if err != nil {
				return err
			}
			defer func() { _ = sub.Unsubscribe() }()

			c.log.Info("Watching refresh announcements", logger.String("subject", c.cfg.NATS.Subject))
			<-cmd.Context().Done()
			return nil
		},
	}
}
