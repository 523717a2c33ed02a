package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/reconciler/internal/service/reaper"
	"github.com/vladislavdragonenkov/reconciler/internal/service/reconcile"
	"github.com/vladislavdragonenkov/reconciler/internal/storage/postgres"
)

type sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
	Threshold() time.Duration
}

type reapResult struct {
	Cancelled      int       `json:"cancelled"`
	ThresholdHours int       `json:"threshold_hours"`
	Now            time.Time `json:"now"`
}

// newSweeper открывает Postgres и собирает reaper с журналом timeline/outbox.
var newSweeper = func(ctx context.Context, dsn string, options ...reaper.Option) (sweeper, func() error, error) {
	store, err := postgres.Open(ctx, dsn, postgres.WithLogger(log.WithField("component", "postgres")))
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres store: %w", err)
	}

	journal := reconcile.NewJournal(postgres.NewTimelineRepository(store), postgres.NewOutboxRepository(store))
	options = append(options, reaper.WithJournal(journal))

	return reaper.New(postgres.NewOrderRepository(store), store.Transactor(), options...), store.Close, nil
}

func reapCmd(opts *rootOptions) *cobra.Command {
	var (
		thresholdHours int
		batchSize      int
		at             string
	)

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Cancel stale pending orders once",
		Long: `Runs a single stale-order sweep against PostgreSQL.

Every pending order created before now minus the threshold is cancelled,
journaled in the timeline and announced through the outbox.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if thresholdHours <= 0 {
				return fmt.Errorf("threshold-hours must be > 0")
			}
			dsn := opts.postgresDSN()
			if dsn == "" {
				return fmt.Errorf("postgres dsn is required (--dsn or %s)", envPostgresDSN)
			}

			now := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
				now = parsed.UTC()
			}

			s, closeFn, err := newSweeper(cmd.Context(), dsn,
				reaper.WithLogger(log.WithField("component", "reaper")),
				reaper.WithThreshold(time.Duration(thresholdHours)*time.Hour),
				reaper.WithBatchSize(batchSize),
			)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			return runReap(cmd, s, now)
		},
	}

	cmd.Flags().IntVar(&thresholdHours, "threshold-hours", int(reaper.DefaultThreshold/time.Hour), "cancel pending orders older than this many hours")
	cmd.Flags().IntVar(&batchSize, "batch-size", 500, "orders cancelled per transaction")
	cmd.Flags().StringVar(&at, "at", "", "evaluate staleness at this RFC3339 time instead of now")

	return cmd
}

func runReap(cmd *cobra.Command, s sweeper, now time.Time) error {
	cancelled, err := s.Sweep(cmd.Context(), now)
	if err != nil {
		return fmt.Errorf("sweep stale orders (cancelled=%d): %w", cancelled, err)
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(reapResult{
		Cancelled:      cancelled,
		ThresholdHours: int(s.Threshold() / time.Hour),
		Now:            now,
	})
}
