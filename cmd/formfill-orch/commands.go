package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/formfill/orchestrator/internal/config"
	"github.com/formfill/orchestrator/internal/dataset"
	"github.com/formfill/orchestrator/internal/domain"
	"github.com/formfill/orchestrator/internal/engine"
	"github.com/formfill/orchestrator/internal/history"
	"github.com/formfill/orchestrator/internal/notify"
	"github.com/formfill/orchestrator/internal/preflight"
	"github.com/formfill/orchestrator/web/api"
)

var historyLimit int

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator API server",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	datasetsCmd := &cobra.Command{
		Use:   "datasets",
		Short: "List uploaded datasets",
		RunE:  runDatasets,
	}
	rootCmd.AddCommand(datasetsCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the audit trail",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(historyCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, cleanup := config.SetupLogger(cfg.Log.File, config.ParseLevel(cfg.Log.Level))
	defer cleanup()
	slog.SetDefault(logger)

	store, err := dataset.NewStore(cfg.Datasets.Dir)
	if err != nil {
		return err
	}
	watcher, err := dataset.NewWatcher(store)
	if err != nil {
		logger.Warn("dataset watcher unavailable", "error", err)
	} else {
		watcher.Start(context.Background())
		defer watcher.Stop()
	}

	// History is optional; the registry alone is enough to serve.
	// The interface value is only assigned on success so a failed open
	// does not leave a typed nil behind.
	var recorder engine.Recorder
	if cfg.History.DatabasePath != "" {
		hist, err := history.New(cfg.History.DatabasePath, logger)
		if err != nil {
			logger.Warn("run history disabled", "error", err)
		} else {
			defer hist.Close()
			recorder = hist
		}
	}

	var notifiers []notify.Notifier
	notifiers = append(notifiers, notify.NewDesktopNotifier(cfg.Notifications.Desktop))
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}

	hub := api.NewSSEHub()
	registry := engine.NewRegistry()
	supervisor := engine.NewSupervisor(cfg.Engine, registry, engine.Options{
		Recorder: recorder,
		Notifier: notify.NewMultiNotifier(notifiers...),
		Logger:   logger,
		OnUpdate: func(run domain.Run) {
			hub.Broadcast(api.SSEEvent{Type: api.EventRunUpdate, Data: run})
		},
	})

	reaper, err := engine.NewReaper(registry, cfg.Cleanup.Cron,
		time.Duration(cfg.Cleanup.RetentionHours)*time.Hour, logger)
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Cleanup.Cron, err)
	}
	reaper.Start()
	defer reaper.Stop()

	pf := preflight.NewRunner(cfg.Engine, logger)

	server := api.NewServer(supervisor, store, pf, hub, cfg.Addr(), logger)
	return server.Start()
}

func runDatasets(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := dataset.NewStore(cfg.Datasets.Dir)
	if err != nil {
		return err
	}

	metas, err := store.List(context.Background())
	if err != nil {
		if errors.Is(err, dataset.ErrMetaNotFound) {
			fmt.Println("No datasets uploaded")
			return nil
		}
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROWS\tTAGS")
	for _, m := range metas {
		fmt.Fprintf(w, "%s\t%s\t%d\t%v\n", m.ID, m.Name, m.Count, m.Tags)
	}
	return w.Flush()
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.History.DatabasePath == "" {
		return fmt.Errorf("run history is disabled in the configuration")
	}

	hist, err := history.New(cfg.History.DatabasePath, slog.Default())
	if err != nil {
		return err
	}
	defer hist.Close()

	records, err := hist.ListRecent(historyLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tOK\tNG\tTOTAL\tSTARTED\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status, r.Success, r.Failed, r.Total,
			r.StartedAt.Format(time.RFC3339), r.LastError)
	}
	return w.Flush()
}
