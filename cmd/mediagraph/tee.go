package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/mediagraph/elements"
	"github.com/zsiec/mediagraph/pipeline"
)

type teeOptions struct {
	NumBuffers int
	Freq       float64
	Leaky      string
}

func newTeeCommand(v *viper.Viper) *cobra.Command {
	opts := &teeOptions{}
	cmd := &cobra.Command{
		Use:   "tee",
		Short: "Split a test tone into a played branch and a counting branch",
		Long: `Builds
  audio-test-source ! tee name=t
  t. ! queue ! audio-convert ! audio-resample ! auto-audio-sink
  t. ! queue ! fake-sink
and prints the tee and queue statistics when the stream ends.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTee(cmd, newSession(v), opts)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&opts.NumBuffers, "num-buffers", 100, "Buffers to produce")
	flags.Float64Var(&opts.Freq, "freq", 215, "Tone frequency in Hz")
	flags.StringVar(&opts.Leaky, "leaky", "no", "Leaky mode of the counting branch queue: no, upstream or downstream")
	return cmd
}

func runTee(cmd *cobra.Command, s *session, opts *teeOptions) error {
	type spec struct {
		factory, name string
		props         map[string]any
	}
	specs := []spec{
		{"audio-test-source", "source", map[string]any{"num-buffers": opts.NumBuffers, "freq": opts.Freq}},
		{"tee", "tee", nil},
		{"queue", "audio-queue", nil},
		{"audio-convert", "convert", nil},
		{"audio-resample", "resample", nil},
		{"auto-audio-sink", "audio-sink", nil},
		{"queue", "count-queue", map[string]any{"leaky": opts.Leaky}},
		{"fake-sink", "count-sink", nil},
	}
	p := s.newPipeline("tee")
	els := make(map[string]*pipeline.Element, len(specs))
	for _, sp := range specs {
		e, err := s.make(sp.factory, sp.name, sp.props)
		if err != nil {
			return err
		}
		if err := p.Add(e); err != nil {
			return err
		}
		els[sp.name] = e
	}

	if err := pipeline.LinkMany(els["source"], els["tee"]); err != nil {
		return err
	}
	if err := pipeline.LinkMany(els["tee"], els["audio-queue"], els["convert"], els["resample"], els["audio-sink"]); err != nil {
		return err
	}
	if err := pipeline.LinkMany(els["tee"], els["count-queue"], els["count-sink"]); err != nil {
		return err
	}

	if err := s.run(cmd.Context(), p, hooks{}); err != nil {
		return err
	}

	report := struct {
		Tee    elements.TeeStats     `json:"tee"`
		Queues []elements.QueueStats `json:"queues"`
		Sinks  []elements.SinkStats  `json:"sinks"`
	}{}
	report.Tee, _ = elements.TeeStatsOf(els["tee"])
	for _, name := range []string{"audio-queue", "count-queue"} {
		qs, _ := elements.QueueStatsOf(els[name])
		report.Queues = append(report.Queues, qs)
	}
	for _, name := range []string{"audio-sink", "count-sink"} {
		if sk, ok := elements.AsSink(els[name]); ok {
			report.Sinks = append(report.Sinks, sk.Stats())
		}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return nil
}
