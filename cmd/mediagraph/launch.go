package main

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/mediagraph/elements"
	"github.com/zsiec/mediagraph/launch"
)

func newLaunchCommand(v *viper.Viper) *cobra.Command {
	var (
		file  string
		stats bool
	)
	cmd := &cobra.Command{
		Use:   "launch [description]",
		Short: "Run a pipeline given in launch syntax or as a YAML file",
		Example: `  mediagraph launch test-source num-buffers=100 ! queue ! auto-video-sink
  mediagraph launch 'test-source ! video/x-raw,format=GRAY8 ! tee name=t  t. ! queue ! fake-sink  t. ! queue ! auto-sink'
  mediagraph launch --file pipeline.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				d   *launch.Description
				err error
			)
			switch {
			case file != "" && len(args) > 0:
				return errors.New("give either a description or --file")
			case file != "":
				d, err = launch.LoadFile(file)
			case len(args) > 0:
				d, err = launch.Parse(strings.Join(args, " "))
			default:
				return errors.New("no pipeline description")
			}
			if err != nil {
				return err
			}

			s := newSession(v)
			p, err := launch.Build(s.reg, d, s.pipelineOptions()...)
			if err != nil {
				return err
			}
			defer p.Dispose()
			if err := s.run(cmd.Context(), p, hooks{}); err != nil {
				return err
			}
			if !stats {
				return nil
			}

			var out []elements.SinkStats
			for _, e := range p.Children() {
				if sk, ok := elements.AsSink(e); ok {
					out = append(out, sk.Stats())
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML pipeline file")
	cmd.Flags().BoolVar(&stats, "stats", false, "Print sink statistics as JSON when the pipeline stops")
	return cmd
}
