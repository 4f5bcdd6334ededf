package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vincentbai/browsetrace-tracker/internal/config"
	"github.com/vincentbai/browsetrace-tracker/internal/delivery"
	"github.com/vincentbai/browsetrace-tracker/internal/flusher"
	"github.com/vincentbai/browsetrace-tracker/internal/ledger"
	"github.com/vincentbai/browsetrace-tracker/internal/logging"
	"github.com/vincentbai/browsetrace-tracker/internal/models"
	"github.com/vincentbai/browsetrace-tracker/internal/server"
	"github.com/vincentbai/browsetrace-tracker/internal/storage"
	pebblestore "github.com/vincentbai/browsetrace-tracker/internal/storage/pebble"
	"github.com/vincentbai/browsetrace-tracker/internal/tracker"
)

type stack struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend storage.Backend
	ledger  *ledger.Ledger
	channel *delivery.Channel
}

func (s *stack) Close() error {
	return s.backend.Close()
}

// loadStack reads configuration, applies flag overrides and opens the
// ledger store and delivery channel.
func loadStack(cmd *cobra.Command) (*stack, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.StoreDriver = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	// Pebble logs through the standard library logger
	logging.RedirectStdLog(logger)

	fsync, err := pebblestore.ParseFsyncMode(cfg.Fsync)
	if err != nil {
		return nil, err
	}
	backend, err := storage.Open(storage.Options{Driver: cfg.StoreDriver, Dir: cfg.DataDir, Fsync: fsync})
	if err != nil {
		return nil, err
	}

	return &stack{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		ledger:  ledger.New(backend, logger),
		channel: delivery.New(delivery.Options{
			URL:         cfg.RequestURL,
			Timeout:     cfg.DeliveryTimeout,
			MaxInFlight: cfg.MaxInFlight,
			Logger:      logger,
		}),
	}, nil
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the local bridge that receives page signals",
		Aliases: []string{"start"},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadStack(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if v, _ := cmd.Flags().GetString("address"); v != "" {
				s.cfg.Address = v
			}
			if cmd.Flags().Changed("lazy") {
				s.cfg.LazyReport, _ = cmd.Flags().GetBool("lazy")
			}

			tr := tracker.New(tracker.Options{
				SDKVersion:     config.SDKVersion,
				UUID:           s.cfg.UUID,
				Extra:          s.cfg.ExtraFields(),
				LazyReport:     s.cfg.LazyReport,
				HistoryTracker: s.cfg.HistoryTracker,
				HashTracker:    s.cfg.HashTracker,
				DOMTracker:     s.cfg.DOMTracker,
				JSError:        s.cfg.JSError,
				TimeTracker:    s.cfg.TimeTracker,
				TimingGrace:    s.cfg.TimingGrace,
			}, s.ledger, s.channel, s.logger)

			s.logger.Info("Starting BrowserTrace tracker",
				slog.String("address", s.cfg.Address),
				slog.String("request_url", s.cfg.RequestURL),
				slog.Bool("lazy_report", s.cfg.LazyReport),
				slog.String("store", s.cfg.StoreDriver),
				slog.String("session_id", tr.SessionID()),
			)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := server.NewServer(tr, s.cfg.Address, s.logger).Run(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("address", "", "Listen address (overrides TRACKER_ADDRESS)")
	cmd.Flags().Bool("lazy", false, "Defer signals to the ledger until teardown (overrides TRACKER_LAZY_REPORT)")
	return cmd
}

func newFlushCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Drain buckets left in the ledger by an earlier session",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadStack(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			sent := flusher.New(s.ledger, s.channel, s.logger).FlushAll()

			wait, _ := cmd.Flags().GetDuration("wait")
			ctx, cancel := context.WithTimeout(context.Background(), wait)
			defer cancel()
			if err := s.channel.Wait(ctx); err != nil {
				s.logger.Warn("in-flight deliveries abandoned", slog.Any("error", err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "flushed %d bucket(s)\n", sent)
			return nil
		},
	}
	cmd.Flags().Duration("wait", 10*time.Second, "How long to wait for in-flight deliveries")
	return cmd
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print ledger buckets without draining them",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadStack(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			keys, err := s.backend.Keys()
			if err != nil {
				return err
			}
			seen := make(map[string]bool, len(keys))
			ordered := make([]string, 0, len(keys))
			for _, category := range models.FlushOrder {
				seen[category.Key] = true
				ordered = append(ordered, category.Key)
			}
			for _, key := range keys {
				if !seen[key] {
					ordered = append(ordered, key)
				}
			}

			out := cmd.OutOrStdout()
			for _, key := range ordered {
				payload, err := s.ledger.Peek(key)
				if err != nil {
					return err
				}
				if payload == nil {
					fmt.Fprintf(out, "%s: (empty)\n", key)
					continue
				}
				fmt.Fprintf(out, "%s: %s\n", key, payload)
			}
			return nil
		},
	}
}
