package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("mediagraph failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MEDIAGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("log-level", "info")

	root := &cobra.Command{
		Use:           "mediagraph",
		Short:         "Build and run media pipelines",
		Long:          "mediagraph builds graphs of media elements, negotiates their formats and runs them.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(v)
		},
	}

	flags := root.PersistentFlags()
	flags.Bool("debug", false, "Log at debug level (MEDIAGRAPH_DEBUG)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error (MEDIAGRAPH_LOG_LEVEL)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090 (MEDIAGRAPH_METRICS_ADDR)")
	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	root.AddCommand(
		newPlayCommand(v),
		newSeekCommand(v),
		newInspectCommand(),
		newCapsCommand(v),
		newTeeCommand(v),
		newLaunchCommand(v),
	)
	return root
}

func setupLogging(v *viper.Viper) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return err
	}
	if v.GetBool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}
