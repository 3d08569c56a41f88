package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/mediagraph/pipeline"
)

type capsOptions struct {
	Source     string
	Sink       string
	NumBuffers int
}

func newCapsCommand(v *viper.Viper) *cobra.Command {
	opts := &capsOptions{}
	cmd := &cobra.Command{
		Use:   "caps",
		Short: "Show pad templates and the caps negotiated between two elements",
		Example: `  mediagraph caps
  mediagraph caps --source audio-test-source --sink auto-audio-sink`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCaps(cmd, newSession(v), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Source, "source", "test-source", "Source factory")
	flags.StringVar(&opts.Sink, "sink", "auto-video-sink", "Sink factory")
	flags.IntVar(&opts.NumBuffers, "num-buffers", 30, "Buffers to play")
	return cmd
}

func runCaps(cmd *cobra.Command, s *session, opts *capsOptions) error {
	out := cmd.OutOrStdout()
	for _, name := range []string{opts.Source, opts.Sink} {
		f, ok := s.reg.Find(name)
		if !ok {
			return fmt.Errorf("%w: %s", pipeline.ErrUnknownFactory, name)
		}
		fmt.Fprintf(out, "Pad templates of %s:\n", f.Name)
		for _, t := range f.Templates {
			fmt.Fprintf(out, "  %s template: '%s' (%s)\n", t.Direction, t.NameTemplate, t.Presence)
			printCaps(out, "    ", t.Caps)
		}
	}

	p := s.newPipeline("caps")
	src, err := s.make(opts.Source, "source", map[string]any{"num-buffers": opts.NumBuffers})
	if err != nil {
		return err
	}
	sink, err := s.make(opts.Sink, "sink", nil)
	if err != nil {
		return err
	}
	if err := p.Add(src, sink); err != nil {
		return err
	}
	if err := src.Link(sink); err != nil {
		return err
	}

	pad := sink.StaticPad("sink")
	return s.run(cmd.Context(), p, hooks{
		message: func(m *pipeline.Message) bool {
			if m.Type != pipeline.MessageStateChanged || m.Source != p.Element {
				return false
			}
			_, cur, _ := m.ParseStateChanged()
			fmt.Fprintf(out, "\nCaps for the sink pad in %s:\n", cur)
			if c := pad.CurrentCaps(); c != nil {
				printCaps(out, "  ", c)
			} else {
				printCaps(out, "  ", pad.QueryCaps(nil))
			}
			return false
		},
	})
}
