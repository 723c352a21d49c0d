package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/recstore/replay"
	"github.com/vx-labs/recstore/stats"
	"github.com/vx-labs/recstore/tracing"
	"go.uber.org/zap"
)

func Replay(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <destination>",
		Short: "Replay a recorded session, paced by the reception timestamps.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx = replay.StoreLogger(ctx, getLogger(config))
			ctx = replay.AddFields(ctx, zap.String("storage_destination", args[0]))
			if port := config.GetInt("metrics-port"); port > 0 {
				go func() {
					if err := stats.ListenAndServe(port); err != nil {
						replay.L(ctx).Error("metrics server failed", zap.Error(err))
					}
				}()
				replay.L(ctx).Info("started metrics server", zap.Int("metrics_port", port))
			}
			if config.GetBool("trace") {
				shutdown, err := tracing.Init(ctx, tracing.Config{ServiceName: "recstore", UseStdout: true})
				if err != nil {
					replay.L(ctx).Fatal("failed to start tracing", zap.Error(err))
				}
				defer shutdown(context.Background())
			}
			r := mustOpenReader(config, replay.L(ctx), args[0])
			defer r.Close()
			printer, err := newRecordPrinter(cmd, config)
			if err != nil {
				replay.L(ctx).Fatal("failed to parse format", zap.Error(err))
			}
			consumer := replay.NewConsumer(
				replay.WithName("recstore-cli"),
				replay.WithWindow(config.GetDuration("window")),
				replay.WithSpeed(config.GetFloat64("speed")),
				replay.WithMaxBatchSize(config.GetInt("batch-size")),
				replay.WithPerformanceLogging(replay.L(ctx)),
			)
			for _, stream := range r.StreamInfoReader().Read() {
				sr, err := r.StreamReader(stream, selector(config))
				if err != nil {
					replay.L(ctx).Fatal("failed to open stream", zap.Error(err), zap.String("stream_name", stream.Name))
				}
				err = consumer.Consume(ctx, sr, func(ctx context.Context, batch replay.Batch) error {
					for _, rec := range batch.Records {
						if err := printer.Print(rec); err != nil {
							return err
						}
					}
					return printer.Flush()
				})
				sr.Close()
				if err != nil {
					replay.L(ctx).Fatal("replay failed", zap.Error(err), zap.String("stream_name", stream.Name))
				}
			}
		},
	}
	addPrinterFlags(cmd)
	cmd.Flags().Float64("speed", 1, "Replay speed factor, 0 replays as fast as possible.")
	cmd.Flags().Duration("window", 100*time.Millisecond, "Time window read at once.")
	cmd.Flags().Int("batch-size", 10, "Maximum number of records handed to the printer at once.")
	cmd.Flags().Int("metrics-port", 0, "Start Prometheus HTTP metrics server on this port.")
	cmd.Flags().Bool("trace", false, "Export replay traces to stderr.")
	return cmd
}
