package main

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/mediagraph/pipeline"
)

const defaultURI = "test://av?duration=5s"

func newPlayCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "play [uri]",
		Short: "Play a URI, adding an output branch for every stream found",
		Example: `  mediagraph play
  mediagraph play "test://video?duration=10s&framerate=25"
  mediagraph play file:///tmp/capture.mgf`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri := defaultURI
			if len(args) == 1 {
				uri = args[0]
			}
			return runPlay(cmd, newSession(v), uri)
		},
	}
}

func runPlay(cmd *cobra.Command, s *session, uri string) error {
	p := s.newPipeline("play")
	src, err := s.make("auto-source", "source", map[string]any{"uri": uri})
	if err != nil {
		return err
	}
	if err := p.Add(src); err != nil {
		return err
	}

	src.OnPadAdded(func(_ *pipeline.Element, pad *pipeline.Pad) {
		if err := addOutputBranch(s, p, pad); err != nil {
			slog.Error("cannot play stream", "pad", pad.Name(), "error", err)
		}
	})
	src.OnNoMorePads(func(*pipeline.Element) {
		slog.Info("all streams found", "uri", uri)
	})

	return s.run(cmd.Context(), p, hooks{})
}

// addOutputBranch plays the stream behind pad: converters and an automatic
// sink matching its media type.
func addOutputBranch(s *session, p *pipeline.Pipeline, pad *pipeline.Pad) error {
	factories := []string{"queue", "video-convert", "auto-video-sink"}
	if strings.HasPrefix(pad.Name(), "audio") {
		factories = []string{"queue", "audio-convert", "audio-resample", "auto-audio-sink"}
	}
	branch := make([]*pipeline.Element, 0, len(factories))
	for _, f := range factories {
		e, err := s.make(f, pad.Name()+"-"+f, nil)
		if err != nil {
			return err
		}
		branch = append(branch, e)
	}
	if err := p.Add(branch...); err != nil {
		return err
	}
	if err := pipeline.LinkMany(branch...); err != nil {
		return err
	}
	if err := syncBranch(p, branch...); err != nil {
		return err
	}
	if _, err := pipeline.LinkPads(pad, branch[0].StaticPad("sink")); err != nil {
		return err
	}
	slog.Info("stream linked", "pad", pad.Name(), "caps", pad.CurrentCaps())
	return nil
}
