package main

import (
	"bufio"
	"context"
	"math"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/storage"
	"go.uber.org/zap"
)

const recordTemplate = `{{ .SequenceNumber | printf "%6d" }} {{ .ReceptionTimestamp | parseDate | faint }} {{ if .Valid }}{{ .Data.ID | printf "%d" | yellow }} {{ .Data.Msg }}{{ else }}{{ "invalid" | red }}{{ end }}`

// recordPrinter renders records with a template, or in the labeled text
// format when the template is empty.
type recordPrinter struct {
	tpl *template.Template
	enc *record.Encoder
	out *bufio.Writer
}

func newRecordPrinter(cmd *cobra.Command, config *viper.Viper) (*recordPrinter, error) {
	out := bufio.NewWriter(cmd.OutOrStdout())
	if config.GetBool("text") {
		return &recordPrinter{enc: record.NewEncoder(out), out: out}, nil
	}
	tpl, err := ParseTemplate(config.GetString("format"))
	if err != nil {
		return nil, err
	}
	return &recordPrinter{tpl: tpl, out: out}, nil
}

func (p *recordPrinter) Print(r *record.Record) error {
	if p.enc != nil {
		return p.enc.Encode(r)
	}
	return p.tpl.Execute(p.out, r)
}

func (p *recordPrinter) Flush() error {
	return p.out.Flush()
}

func selector(config *viper.Viper) storage.Selector {
	return storage.Selector{Start: config.GetInt64("from"), End: config.GetInt64("to")}
}

func addPrinterFlags(cmd *cobra.Command) {
	cmd.Flags().String("format", recordTemplate, "Format each record using Go's template syntax.")
	cmd.Flags().Bool("text", false, "Print records in the storage text format.")
	cmd.Flags().Int64("from", math.MinInt64, "Skip records received before this timestamp.")
	cmd.Flags().Int64("to", math.MaxInt64, "Skip records received after this timestamp.")
}

func Cat(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat <destination>",
		Short: "Print the records of a recorded session.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			l := getLogger(config)
			r := mustOpenReader(config, l, args[0])
			defer r.Close()
			printer, err := newRecordPrinter(cmd, config)
			if err != nil {
				l.Fatal("failed to parse format", zap.Error(err))
			}
			sel := selector(config)
			sel.MaxSamples = config.GetInt("batch-size")
			infos := r.StreamInfoReader().Read()
			for _, stream := range infos {
				sr, err := r.StreamReader(stream, sel)
				if err != nil {
					l.Fatal("failed to open stream", zap.Error(err), zap.String("stream_name", stream.Name))
				}
				for !sr.Finished() {
					batch, err := sr.Read(math.MaxInt64)
					if err != nil {
						l.Fatal("failed to read stream", zap.Error(err), zap.String("stream_name", stream.Name))
					}
					for _, rec := range batch {
						if err := printer.Print(rec); err != nil {
							l.Fatal("failed to print record", zap.Error(err))
						}
					}
					sr.ReturnLoan(batch)
					if len(batch) == 0 {
						break
					}
				}
				sr.Close()
			}
			if err := printer.Flush(); err != nil {
				l.Fatal("failed to print records", zap.Error(err))
			}
		},
	}
	addPrinterFlags(cmd)
	cmd.Flags().Int("batch-size", 256, "Number of records read at once.")
	return cmd
}
