package cli

import (
	"Go2NetIDS/internal/model"
	"Go2NetIDS/internal/probe"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newReplayCmd(opts *globalOptions) *cobra.Command {
	var (
		jsonOut    bool
		alertsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "replay <pcap>",
		Short: "Run detection over a capture file",
		Long: `Replays a pcap or pcapng file through the detection pipeline and prints
the resulting verdicts. Flows still open at end of file are classified as
degraded flows.`,
		Example: `  ns-ids replay testdata/scan.pcap
  ns-ids replay capture.pcapng --alerts-only --json`,
		Args: cobra.ExactArgs(1),
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
			p, err := buildPipeline(cfg, logger)
			if err != nil {
				return err
			}
			defer p.close()

			src, err := probe.OpenFile(args[0], logger)
			if err != nil {
				p.manager.Stop(context.Background())
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				var mu sync.Mutex
				enc := json.NewEncoder(out)
				p.manager.Subscribe(func(v model.Verdict) {
					if alertsOnly && !v.Alert {
						return
					}
					mu.Lock()
					enc.Encode(v)
					mu.Unlock()
				})
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			start := time.Now()
			p.manager.Start()
			logger.Info("Replaying capture", zap.String("file", args[0]))
			p.manager.Run(ctx, src.Packets(ctx))
			src.Close()

			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			stopErr := p.manager.Stop(stopCtx)
			if stopErr != nil {
				logger.Warn("Pipeline did not drain cleanly", zap.Error(stopErr))
			}

			if !jsonOut {
				printReplaySummary(out, p, src.Stats(), time.Since(start), alertsOnly)
			}
			return stopErr
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print verdicts as JSON lines while replaying")
	cmd.Flags().BoolVar(&alertsOnly, "alerts-only", false, "Only print alerting verdicts")
	return cmd
}

func printReplaySummary(w io.Writer, p *pipeline, cs probe.Stats, elapsed time.Duration, alertsOnly bool) {
	h := p.manager.History()
	h.Invalidate()
	s := h.Snapshot()
	st := p.manager.Status()

	fmt.Fprintf(w, "\n  Replay summary\n")
	fmt.Fprintf(w, "  ────────────────────────────────────\n")
	fmt.Fprintf(w, "  Packets:     %d captured, %d malformed, %d non-IP\n", cs.Captured, cs.Dropped, cs.Ignored)
	fmt.Fprintf(w, "  Flows:       %d classified (%d degraded), %d failed\n", s.TotalAnalyzed, s.DegradedCount, st.Failed)
	fmt.Fprintf(w, "  Alerts:      %d (threat rate %.1f%%)\n", s.TotalAlerts, s.ThreatRate*100)
	fmt.Fprintf(w, "  Shed:        %d ready flows, %d evicted\n", st.ReadyShed, st.Evicted)
	fmt.Fprintf(w, "  Elapsed:     %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  ────────────────────────────────────\n\n")

	for i := len(s.Recent) - 1; i >= 0; i-- {
		v := s.Recent[i]
		if alertsOnly && !v.Alert {
			continue
		}
		mark := " "
		if v.Alert {
			mark = "!"
		}
		fmt.Fprintf(w, "  %s %-48s %5.1f%%  %3d pkts\n", mark, v.Source+" -> "+v.Destination, v.Confidence*100, v.Packets)
	}
}
