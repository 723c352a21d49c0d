package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/storage"
	"go.uber.org/zap"
)

// samples returns count HelloMsg samples received every interval from start.
// Every invalidEvery-th sample is invalid when invalidEvery is positive.
func samples(start time.Time, count int, interval time.Duration, message string, invalidEvery int) []record.Sample {
	out := make([]record.Sample, count)
	for idx := range out {
		out[idx] = record.Sample{
			Timestamp: start.Add(time.Duration(idx) * interval).UnixNano(),
			Valid:     invalidEvery <= 0 || (idx+1)%invalidEvery != 0,
		}
		if out[idx].Valid {
			out[idx].Data = record.Payload{ID: int32(idx), Msg: message}
		}
	}
	return out
}

func Generate(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <destination>",
		Short: "Record a session of generated HelloMsg samples.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			l := getLogger(config)
			kind := config.GetString("kind")
			w := mustOpenWriter(config, l, kind, args[0])
			l = l.With(zap.String("storage_backend", kind), zap.String("storage_destination", w.Destination()))
			generated := samples(time.Now(), config.GetInt("count"), config.GetDuration("interval"), config.GetString("message"), config.GetInt("invalid-every"))
			batchSize := config.GetInt("batch-size")
			if batchSize <= 0 {
				batchSize = len(generated)
			}
			for len(generated) > 0 {
				n := batchSize
				if n > len(generated) {
					n = len(generated)
				}
				if err := w.Append(generated[:n]); err != nil {
					l.Fatal("failed to append samples", zap.Error(err))
				}
				generated = generated[n:]
			}
			if pw, ok := w.(storage.PublicationWriter); ok {
				err := pw.StorePublications([]record.Publication{{
					Timestamp: time.Now().UnixNano(),
					Valid:     true,
					TopicName: config.GetString("stream-name"),
					TypeName:  record.HelloMsg.Name,
				}})
				if err != nil {
					l.Fatal("failed to store publications", zap.Error(err))
				}
			}
			count := w.StoredCount()
			if err := w.Close(); err != nil {
				l.Fatal("failed to close storage", zap.Error(err))
			}
			l.Info("session recorded", zap.Uint64("stored_records", count))
			fmt.Fprintln(cmd.OutOrStdout(), w.Destination())
		},
	}
	cmd.Flags().IntP("count", "n", 100, "Number of samples to record.")
	cmd.Flags().Duration("interval", 100*time.Millisecond, "Reception interval between samples.")
	cmd.Flags().String("message", "Hello World", "Message carried by valid samples.")
	cmd.Flags().Int("invalid-every", 0, "Record every nth sample as invalid.")
	cmd.Flags().Int("batch-size", 10, "Number of samples appended at once.")
	return cmd
}
