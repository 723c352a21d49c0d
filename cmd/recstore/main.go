package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/recstore/storage"
	"github.com/vx-labs/recstore/storage/file"
	_ "github.com/vx-labs/recstore/storage/kvstore"
	_ "github.com/vx-labs/recstore/storage/logstore"
	_ "github.com/vx-labs/recstore/storage/sqlstore"
	"go.uber.org/zap"
)

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "recstore")
}

// storageOptions builds the storage options from the global flags.
func storageOptions(config *viper.Viper, l *zap.Logger) ([]storage.Option, error) {
	opts := []storage.Option{storage.WithLogger(l)}
	if name := config.GetString("stream-name"); name != "" {
		opts = append(opts, storage.WithStreamName(name))
	}
	for _, property := range config.GetStringSlice("property") {
		tokens := strings.SplitN(property, "=", 2)
		if len(tokens) != 2 || tokens[0] == "" {
			return nil, storage.Formatf("invalid property %q, expected key=value", property)
		}
		opts = append(opts, storage.WithProperty(tokens[0], tokens[1]))
	}
	return opts, nil
}

func mustOpenReader(config *viper.Viper, l *zap.Logger, dest string) storage.Reader {
	opts, err := storageOptions(config, l)
	if err != nil {
		l.Fatal("invalid storage options", zap.Error(err))
	}
	r, err := storage.OpenReader(config.GetString("kind"), dest, opts...)
	if err != nil {
		l.Fatal("failed to open storage", zap.Error(err), zap.String("storage_destination", dest))
	}
	return r
}

func mustOpenWriter(config *viper.Viper, l *zap.Logger, kind, dest string) storage.Writer {
	opts, err := storageOptions(config, l)
	if err != nil {
		l.Fatal("invalid storage options", zap.Error(err))
	}
	w, err := storage.OpenWriter(kind, dest, opts...)
	if err != nil {
		l.Fatal("failed to create storage", zap.Error(err), zap.String("storage_destination", dest))
	}
	return w
}

func main() {
	config := viper.New()
	config.AddConfigPath(configDir())
	config.SetConfigType("yaml")
	config.SetConfigName("config")
	config.SetEnvPrefix("RECSTORE")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()

	ctx := context.Background()
	rootCmd := &cobra.Command{
		Use:   "recstore",
		Short: "Record and replay sample streams.",
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			config.BindPFlags(cmd.Flags())
			config.BindPFlags(cmd.PersistentFlags())
			if err := config.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					log.Fatal(err)
				}
			}
		},
	}
	rootCmd.AddCommand(Generate(ctx, config))
	rootCmd.AddCommand(Info(ctx, config))
	rootCmd.AddCommand(Cat(ctx, config))
	rootCmd.AddCommand(Replay(ctx, config))
	rootCmd.AddCommand(Convert(ctx, config))
	rootCmd.PersistentFlags().StringP("kind", "k", file.Kind, "Storage backend, one of "+strings.Join(storage.Kinds(), ", ")+".")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Use a fancy logger and increase logging level.")
	rootCmd.PersistentFlags().String("stream-name", storage.DefaultStreamName, "Recorded stream name.")
	rootCmd.PersistentFlags().StringSliceP("property", "p", nil, "Storage backend property, as key=value.")
	rootCmd.Execute()
}
