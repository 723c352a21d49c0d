package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/recstore/convert"
	"go.uber.org/zap"
)

func Convert(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <source> <destination>",
		Short: "Copy a recorded session to another backend, or to a CSV file.",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			l := getLogger(config)
			r := mustOpenReader(config, l, args[0])
			defer r.Close()
			if config.GetBool("csv") {
				out := cmd.OutOrStdout()
				if args[1] != "-" {
					fd, err := os.Create(args[1])
					if err != nil {
						l.Fatal("failed to create csv file", zap.Error(err))
					}
					defer fd.Close()
					out = fd
				}
				count, err := convert.ToCSV(ctx, r, out, convert.WithEmptyValue(config.GetString("empty-value")))
				if err != nil {
					l.Fatal("failed to convert session", zap.Error(err))
				}
				l.Info("session converted", zap.Uint64("converted_records", count), zap.String("output_format", "csv"))
				return
			}
			kind := config.GetString("to-kind")
			if kind == "" {
				kind = config.GetString("kind")
			}
			w := mustOpenWriter(config, l, kind, args[1])
			count, err := convert.ToStorage(ctx, r, w)
			if err != nil {
				w.Close()
				l.Fatal("failed to convert session", zap.Error(err))
			}
			if err := w.Close(); err != nil {
				l.Fatal("failed to close storage", zap.Error(err))
			}
			l.Info("session converted", zap.Uint64("converted_records", count), zap.String("storage_backend", kind), zap.String("storage_destination", w.Destination()))
		},
	}
	cmd.Flags().String("to-kind", "", "Destination storage backend, defaults to the source backend.")
	cmd.Flags().Bool("csv", false, "Write a CSV file instead, - for the standard output.")
	cmd.Flags().String("empty-value", "", "CSV representation of the data of invalid records.")
	return cmd
}
