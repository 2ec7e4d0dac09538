package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcwatch/rcwatch/internal/archive"
	"github.com/rcwatch/rcwatch/internal/config"
	"github.com/rcwatch/rcwatch/internal/fetch"
	"github.com/rcwatch/rcwatch/internal/logging"
	"github.com/rcwatch/rcwatch/internal/metrics"
	"github.com/rcwatch/rcwatch/internal/notify"
	"github.com/rcwatch/rcwatch/internal/runner"
	"github.com/rcwatch/rcwatch/internal/store"
	"github.com/rcwatch/rcwatch/internal/watch"
)

// newCheckCmd creates the 'check' subcommand, which runs one pass over every
// configured target and exits.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Checks every configured target once",
		Long: `Fetches each configured inventory page, extracts its configuration
records, diffs them against the persisted known state, saves the new state,
and notifies the configured channel about newly appeared configurations.
Exits non-zero when any target fails.`,
		RunE: runCheckCommand,
	}
}

func runCheckCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	if id, idErr := uuid.NewV7(); idErr == nil {
		runID = id.String()
	}
	logger.Info("starting check run",
		zap.String("run_id", runID),
		zap.Int("targets", len(cfg.Targets)),
	)

	st, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	notifier, closeNotifier, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	arch, closeArchive, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeArchive()

	fetcher, err := fetch.NewChromedp(fetch.Config{
		UserAgent:   cfg.Fetch.UserAgent,
		Timeout:     cfg.FetchTimeout(),
		Settle:      cfg.FetchSettle(),
		MaxParallel: cfg.Fetch.MaxParallel,
		HostQPS:     cfg.Fetch.HostQPS,
	}, logger)
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}
	defer fetcher.Close()

	r := runner.New(fetcher, nil, st, notifier, arch, watch.SystemClock{}, runner.Config{
		Parallelism:    cfg.Check.Parallelism,
		Noisy:          cfg.Check.Noisy,
		ReportRemovals: cfg.Check.ReportRemovals,
	}, logger)

	report := r.Run(ctx, runID, cfg.WatchTargets())

	if pushErr := metrics.Push(cfg.Metrics.PushGateway, cfg.Metrics.Job, runID); pushErr != nil {
		logger.Warn("failed to push metrics", zap.Error(pushErr))
	}

	failed := 0
	newRecords := 0
	for _, res := range report.Results {
		if res.Failed() {
			failed++
		}
		newRecords += res.NewRecords
	}
	logger.Info("check run finished",
		zap.String("run_id", runID),
		zap.Int("targets", len(report.Results)),
		zap.Int("failed", failed),
		zap.Int("new_records", newRecords),
	)

	if report.Failed() {
		return fmt.Errorf("%d of %d target checks failed", failed, len(report.Results))
	}
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Provider {
	case "postgres":
		pg, err := store.NewPostgres(ctx, store.PostgresConfig{
			DSN:      cfg.Store.DSN,
			Table:    cfg.Store.Table,
			MaxConns: cfg.Store.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store provider: %s", cfg.Store.Provider)
	}
}

func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (notify.Notifier, func(), error) {
	noop := func() {}
	switch cfg.Notify.Provider {
	case "slack":
		slack, err := notify.NewSlack(cfg.Notify.SlackWebhookURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init slack notifier: %w", err)
		}
		return slack, noop, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Notify.PubSub.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("init pubsub client: %w", err)
		}
		publisher := client.Publisher(cfg.Notify.PubSub.TopicID)
		notifier, err := notify.NewPubSub(publisher)
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("init pubsub notifier: %w", err)
		}
		return notifier, func() {
			publisher.Stop()
			_ = client.Close()
		}, nil
	case "noop":
		return notify.Noop{}, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown notify provider: %s", cfg.Notify.Provider)
	}
}

func buildArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (archive.Archive, func(), error) {
	noop := func() {}
	switch cfg.Archive.Provider {
	case "fs":
		fs, err := archive.NewFileSystem(cfg.Archive.Dir, cfg.Archive.MaxBytes, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init filesystem archive: %w", err)
		}
		return fs, noop, nil
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("init storage client: %w", err)
		}
		arch, err := archive.NewGCS(client, archive.GCSConfig{
			Bucket: cfg.Archive.GCSBucket,
			Prefix: cfg.Archive.Prefix,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return arch, func() { _ = client.Close() }, nil
	case "noop":
		return archive.Noop{}, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive provider: %s", cfg.Archive.Provider)
	}
}
