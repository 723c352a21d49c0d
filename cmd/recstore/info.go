package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/recstore/storage"
	"github.com/vx-labs/recstore/storage/logstore"
	"github.com/vx-labs/recstore/storage/sqlstore"
	"go.uber.org/zap"
)

func countRecords(sr storage.StreamReader) (uint64, error) {
	var count uint64
	for !sr.Finished() {
		batch, err := sr.Read(math.MaxInt64)
		if err != nil {
			return count, err
		}
		count += uint64(len(batch))
		sr.ReturnLoan(batch)
		if len(batch) == 0 {
			break
		}
	}
	return count, nil
}

func Info(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <destination>",
		Short: "Describe a recorded session.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			l := getLogger(config)
			r := mustOpenReader(config, l, args[0])
			defer r.Close()
			infos := r.StreamInfoReader()
			start, err := infos.ServiceStartTime()
			if err != nil {
				l.Fatal("failed to read session start time", zap.Error(err))
			}
			stop, stopErr := infos.ServiceStopTime()
			stopString := "still recording"
			duration := "-"
			if stopErr == nil {
				stopString = parseDate(stop)
				duration = time.Duration(stop - start).String()
			}
			table := getTable([]string{"Stream", "Type", "Records", "Started", "Stopped", "Duration"}, cmd.OutOrStdout())
			for _, stream := range infos.Read() {
				sr, err := r.StreamReader(stream, storage.All())
				if err != nil {
					l.Fatal("failed to open stream", zap.Error(err), zap.String("stream_name", stream.Name))
				}
				count, err := countRecords(sr)
				sr.Close()
				if err != nil {
					l.Fatal("failed to read stream", zap.Error(err), zap.String("stream_name", stream.Name))
				}
				table.Append([]string{
					stream.Name,
					stream.TypeName,
					humanize.Comma(int64(count)),
					parseDate(start),
					stopString,
					duration,
				})
			}
			table.Render()
			switch reader := r.(type) {
			case *logstore.Reader:
				stats := reader.Statistics()
				fmt.Fprintf(cmd.OutOrStdout(), "\ncommitlog: %d segment(s), %s stored\n", stats.SegmentCount, humanize.Bytes(stats.StoredBytes))
			case *sqlstore.Reader:
				sessions, err := sqlstore.Sessions(args[0])
				if err != nil {
					l.Fatal("failed to list sessions", zap.Error(err))
				}
				fmt.Fprintln(cmd.OutOrStdout())
				sessionTable := getTable([]string{"Session", "Stream", "Records", "Started", ""}, cmd.OutOrStdout())
				for _, session := range sessions {
					current := ""
					if session.ID == reader.Session().ID {
						current = "*"
					}
					sessionTable.Append([]string{
						session.ID,
						session.Stream,
						humanize.Comma(int64(session.Count)),
						humanize.Time(time.Unix(0, session.Info.Start)),
						current,
					})
				}
				sessionTable.Render()
			}
		},
	}
	return cmd
}
