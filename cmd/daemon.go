package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"xroute/config"
	"xroute/pkg/bridge"
	"xroute/pkg/runner"
)

var rescanInterval time.Duration

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Resume interrupted routes and serve metrics",
	Long: `Run in the background: resume every stored route that started but did not
finish, keep following bridge events, and expose prometheus metrics.

Chain switches in confirm mode are not prompted for; configure
wallet.switch_mode=immediate for unattended use.`,
	Run: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().DurationVar(&rescanInterval, "rescan", time.Minute, "How often to look for resumable routes")
}

func runDaemon(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	e, err := newEngine(ctx, cfg, false)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer e.Close()

	if err := serve(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
		printError(err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, e *engine) error {
	log := e.logger.WithField("component", "daemon")
	if err := e.startEvents(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return resumeLoop(ctx, e.runner, rescanInterval, log)
	})

	if e.cfg.Bridge.RelayerURL != "" {
		user := e.wallet.Address().Hex()
		tracker := bridge.NewTracker(e.network, e.hub, user, func(tr bridge.ActiveTransfer, active bool) {
			log.WithFields(logrus.Fields{
				"txid":   tr.TransactionID,
				"status": tr.Status,
				"active": active,
			}).Info("transfer updated")
		})
		g.Go(func() error {
			if err := tracker.Start(ctx); err != nil {
				log.WithError(err).Warn("transfer tracking disabled")
				return nil
			}
			<-ctx.Done()
			tracker.Stop()
			return nil
		})
	}

	if e.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", e.metrics.Handler())
		srv := &http.Server{Addr: e.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.WithField("addr", srv.Addr).Info("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// resumeLoop resumes pending routes now and on every tick. Routes still
// running from an earlier pass are skipped by the runner.
func resumeLoop(ctx context.Context, r *runner.Runner, every time.Duration, log *logrus.Entry) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var running sync.WaitGroup
	for {
		resumed, err := r.ResumePending(ctx)
		if err != nil {
			log.WithError(err).Warn("failed to resume routes")
		}
		for _, h := range resumed {
			h := h
			running.Add(1)
			go func() {
				defer running.Done()
				err := h.Wait()
				entry := log.WithField("route", h.RouteID())
				switch {
				case err == nil:
					entry.Info("route completed")
				case errors.Is(err, context.Canceled):
					entry.Info("route interrupted")
				default:
					entry.WithError(err).Warn("route failed")
				}
			}()
		}

		select {
		case <-ctx.Done():
			running.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
