package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

type seekOptions struct {
	At       time.Duration
	To       time.Duration
	KeyUnit  bool
	Interval time.Duration
}

func newSeekCommand(v *viper.Viper) *cobra.Command {
	opts := &seekOptions{}
	cmd := &cobra.Command{
		Use:   "seek [uri]",
		Short: "Play a URI, report position and duration, and seek once",
		Example: `  mediagraph seek
  mediagraph seek --at 2s --to 30s "test://video?duration=60s&key-interval=4s"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri := "test://video?duration=60s&key-interval=4s"
			if len(args) == 1 {
				uri = args[0]
			}
			return runSeek(cmd, newSession(v), uri, opts)
		},
	}
	flags := cmd.Flags()
	flags.DurationVar(&opts.At, "at", 10*time.Second, "Position at which to seek")
	flags.DurationVar(&opts.To, "to", 30*time.Second, "Seek target")
	flags.BoolVar(&opts.KeyUnit, "key-unit", true, "Snap the target to the previous key frame")
	flags.DurationVar(&opts.Interval, "interval", 100*time.Millisecond, "How often to print the position")
	return cmd
}

func runSeek(cmd *cobra.Command, s *session, uri string, opts *seekOptions) error {
	p := s.newPipeline("seek")
	src, err := s.make("auto-source", "source", map[string]any{"uri": uri})
	if err != nil {
		return err
	}
	sink, err := s.make("auto-sink", "sink", nil)
	if err != nil {
		return err
	}
	if err := p.Add(src, sink); err != nil {
		return err
	}
	src.OnPadAdded(func(_ *pipeline.Element, pad *pipeline.Pad) {
		if sink.StaticPad("sink").IsLinked() {
			return
		}
		if _, err := pipeline.LinkPads(pad, sink.StaticPad("sink")); err != nil {
			slog.Error("cannot link stream", "pad", pad.Name(), "error", err)
		}
	})

	out := cmd.OutOrStdout()
	var (
		playing  bool
		seekable bool
		done     bool
	)
	h := hooks{
		interval: opts.Interval,
		message: func(m *pipeline.Message) bool {
			if m.Type != pipeline.MessageStateChanged || m.Source != p.Element {
				return false
			}
			_, cur, _ := m.ParseStateChanged()
			playing = cur == pipeline.StatePlaying
			if playing {
				info, ok := p.QuerySeeking(media.FormatTime)
				seekable = ok && info.Seekable
				if seekable {
					fmt.Fprintf(out, "seeking enabled from %v to %v\n", media.ClockTime(info.Start), media.ClockTime(info.End))
				} else {
					fmt.Fprintln(out, "seeking disabled for this stream")
				}
			}
			return false
		},
		tick: func() {
			if !playing {
				return
			}
			pos, ok := p.QueryPosition(media.FormatTime)
			if !ok {
				return
			}
			dur := media.ClockTimeNone
			if d, ok := p.QueryDuration(media.FormatTime); ok {
				dur = media.ClockTime(d)
			}
			fmt.Fprintf(out, "position %v / %v\r", media.ClockTime(pos), dur)

			if seekable && !done && media.ClockTime(pos) >= media.FromDuration(opts.At) {
				done = true
				flags := media.SeekFlagFlush
				if opts.KeyUnit {
					flags |= media.SeekFlagKeyUnit
				}
				fmt.Fprintf(out, "\nseeking to %v\n", opts.To)
				if !p.SeekSimple(media.FormatTime, flags, int64(media.FromDuration(opts.To))) {
					slog.Warn("seek failed", "target", opts.To)
				}
			}
		},
	}
	err = s.run(cmd.Context(), p, h)
	fmt.Fprintln(out)
	return err
}
