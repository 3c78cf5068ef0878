package cli

import (
	"Go2NetIDS/internal/api"
	"Go2NetIDS/internal/model"
	"Go2NetIDS/internal/probe/live"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(opts *globalOptions) *cobra.Command {
	var iface string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture live traffic and detect intrusions",
		Example: `  sudo ns-ids run --iface eth0
  sudo ns-ids run -c /etc/ns-ids/config.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(opts.debug)
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if iface != "" {
				cfg.Capture.Interface = iface
			}
			if err := cfg.ValidateCapture(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			p, err := buildPipeline(cfg, logger)
			if err != nil {
				return err
			}
			defer p.close()

			src, err := live.Open(cfg.Capture, logger)
			if err != nil {
				p.manager.Stop(context.Background())
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := api.NewServer(api.Options{
				Addr:     cfg.API.ListenAddr,
				Pipeline: p.manager,
				Capture:  src.Stats,
				Querier:  p.querier,
				Hub:      p.hub,
				Model:    p.modelInfo(),
				Logger:   logger.Named("api"),
			})
			health := api.NewHealthServer(logger.Named("grpc"))

			var lis net.Listener
			if cfg.API.GrpcListenAddr != "" {
				if lis, err = net.Listen("tcp", cfg.API.GrpcListenAddr); err != nil {
					src.Close()
					p.manager.Stop(context.Background())
					return fmt.Errorf("failed to listen on %s: %w", cfg.API.GrpcListenAddr, err)
				}
			}

			errCh := make(chan error, 2)
			go p.hub.Run(ctx)
			go func() {
				if err := server.ListenAndServe(); err != nil {
					errCh <- fmt.Errorf("api server: %w", err)
				}
			}()
			if lis != nil {
				go func() {
					if err := health.Serve(lis); err != nil {
						errCh <- fmt.Errorf("grpc server: %w", err)
					}
				}()
			}

			p.manager.Start()
			health.SetServing(true)
			if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				logger.Debug("sd_notify failed", zap.Error(err))
			}

			captureCtx, cancelCapture := context.WithCancel(ctx)
			defer cancelCapture()
			runDone := make(chan struct{})
			go func() {
				p.manager.Run(captureCtx, src.Packets(captureCtx))
				close(runDone)
			}()
			logger.Info("ns-ids running", zap.String("interface", cfg.Capture.Interface), zap.String("api", cfg.API.ListenAddr))

			var runErr error
			select {
			case <-ctx.Done():
				logger.Info("Shutdown signal received, stopping...")
			case runErr = <-errCh:
				logger.Error("Listener failed, stopping...", zap.Error(runErr))
			case <-runDone:
				runErr = fmt.Errorf("%w: capture on %s ended", model.ErrCapture, cfg.Capture.Interface)
				logger.Error("Capture stopped unexpectedly", zap.Error(runErr))
			}

			daemon.SdNotify(false, daemon.SdNotifyStopping)
			health.SetServing(false)

			// Capture stops first so the manager sees no packets while draining.
			cancelCapture()
			<-runDone
			src.Close()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := p.manager.Stop(shutdownCtx); err != nil {
				logger.Warn("Pipeline did not drain cleanly", zap.Error(err))
			}
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("API server forced to shutdown", zap.Error(err))
			}
			health.Stop()

			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			logger.Info("Shutdown complete.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&iface, "iface", "i", "", "Interface to capture from (overrides capture.interface)")
	return cmd
}
