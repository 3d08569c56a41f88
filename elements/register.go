package elements

import (
	"errors"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

// Register adds every element of this package to reg.
func Register(reg *pipeline.Registry) error {
	var errs []error
	for _, f := range Factories() {
		errs = append(errs, reg.Register(f))
	}
	return errors.Join(errs...)
}

// NewRegistry returns a registry holding the elements of this package.
func NewRegistry() *pipeline.Registry {
	reg := pipeline.NewRegistry(nil)
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}

func alwaysSrc(c *caps.Caps) *pipeline.PadTemplate {
	return pipeline.NewPadTemplate("src", pipeline.PadSrc, pipeline.PadAlways, c)
}

func alwaysSink(c *caps.Caps) *pipeline.PadTemplate {
	return pipeline.NewPadTemplate("sink", pipeline.PadSink, pipeline.PadAlways, c)
}

var numBuffersProp = pipeline.PropertySpec{
	Name: "num-buffers", Blurb: "Number of buffers to output before EOS, -1 for unlimited",
	Kind: pipeline.PropertyInt, Default: int64(-1), Min: -1, Max: 1 << 31,
}

var isLiveProp = pipeline.PropertySpec{
	Name: "is-live", Blurb: "Produce data in real time and skip preroll",
	Kind: pipeline.PropertyBool, Default: false, ReadyOnly: true,
}

func sinkProps(syncDefault bool) []pipeline.PropertySpec {
	return []pipeline.PropertySpec{
		{Name: "sync", Blurb: "Render buffers at their running time on the clock", Kind: pipeline.PropertyBool, Default: syncDefault},
		{Name: "async", Blurb: "Complete PAUSED asynchronously on preroll", Kind: pipeline.PropertyBool, Default: true, ReadyOnly: true},
		{Name: "signal-handoffs", Blurb: "Call handoff hooks for every rendered buffer", Kind: pipeline.PropertyBool, Default: false},
		{Name: "silent", Blurb: "Do not log rendered buffers", Kind: pipeline.PropertyBool, Default: true},
	}
}

// Factories returns the factories of this package.
func Factories() []*pipeline.Factory {
	anyCaps := caps.NewAny()
	return []*pipeline.Factory{
		{
			Name: "test-source",
			Class: pipeline.Class{
				LongName:    "Video test source",
				Klass:       "Source/Video",
				Description: "Generates test video patterns",
			},
			Templates: []*pipeline.PadTemplate{alwaysSrc(videoCaps())},
			Properties: []pipeline.PropertySpec{
				{Name: "pattern", Blurb: "Test pattern", Kind: pipeline.PropertyEnum, Default: PatternSMPTE, Enum: patternNicks},
				numBuffersProp,
				isLiveProp,
			},
			New: newTestSource,
		},
		{
			Name: "audio-test-source",
			Class: pipeline.Class{
				LongName:    "Audio test source",
				Klass:       "Source/Audio",
				Description: "Generates test tones",
			},
			Templates: []*pipeline.PadTemplate{alwaysSrc(audioCaps())},
			Properties: []pipeline.PropertySpec{
				{Name: "wave", Blurb: "Waveform", Kind: pipeline.PropertyEnum, Default: WaveSine, Enum: waveNicks},
				{Name: "freq", Blurb: "Frequency in Hz", Kind: pipeline.PropertyFloat, Default: 440.0},
				{Name: "volume", Blurb: "Volume between 0 and 1", Kind: pipeline.PropertyFloat, Default: 0.8},
				{Name: "samples-per-buffer", Blurb: "Samples in each buffer", Kind: pipeline.PropertyInt, Default: int64(1024), Min: 1, Max: 1 << 20},
				numBuffersProp,
				isLiveProp,
			},
			New: newAudioTestSource,
		},
		{
			Name: "auto-source",
			Class: pipeline.Class{
				LongName:    "URI source",
				Klass:       "Source",
				Description: "Plays a test:// or file:// URI, exposing one pad per stream",
			},
			Templates: []*pipeline.PadTemplate{
				pipeline.NewPadTemplate("video_%u", pipeline.PadSrc, pipeline.PadSometimes, anyCaps),
				pipeline.NewPadTemplate("audio_%u", pipeline.PadSrc, pipeline.PadSometimes, anyCaps),
			},
			Properties: []pipeline.PropertySpec{
				{Name: "uri", Blurb: "URI to play", Kind: pipeline.PropertyString, Default: "", ReadyOnly: true},
				numBuffersProp,
			},
			New: newAutoSource,
		},
		{
			Name: "queue",
			Class: pipeline.Class{
				LongName:    "Queue",
				Klass:       "Generic",
				Description: "Decouples upstream and downstream threads",
			},
			Templates: []*pipeline.PadTemplate{alwaysSink(anyCaps), alwaysSrc(anyCaps)},
			Properties: []pipeline.PropertySpec{
				{Name: "max-size-buffers", Blurb: "Max buffers queued, 0 disables", Kind: pipeline.PropertyUint64, Default: uint64(200)},
				{Name: "max-size-bytes", Blurb: "Max bytes queued, 0 disables", Kind: pipeline.PropertyUint64, Default: uint64(10 * 1024 * 1024)},
				{Name: "max-size-time", Blurb: "Max nanoseconds queued, 0 disables", Kind: pipeline.PropertyUint64, Default: uint64(media.Second)},
				{Name: "leaky", Blurb: "Where to drop buffers when full", Kind: pipeline.PropertyEnum, Default: LeakyNo, Enum: leakyNicks},
				{Name: "low-percent", Blurb: "Level in percent a full queue drains to before accepting more", Kind: pipeline.PropertyInt, Default: int64(100), Min: 0, Max: 100},
				{Name: "current-level-buffers", Blurb: "Buffers queued", Kind: pipeline.PropertyUint64, Default: uint64(0), ReadOnly: true},
				{Name: "current-level-bytes", Blurb: "Bytes queued", Kind: pipeline.PropertyUint64, Default: uint64(0), ReadOnly: true},
				{Name: "current-level-time", Blurb: "Nanoseconds queued", Kind: pipeline.PropertyUint64, Default: uint64(0), ReadOnly: true},
			},
			New: newQueue,
		},
		{
			Name: "tee",
			Class: pipeline.Class{
				LongName:    "Tee",
				Klass:       "Generic",
				Description: "Sends every buffer to all requested outputs",
			},
			Templates: []*pipeline.PadTemplate{
				alwaysSink(anyCaps),
				pipeline.NewPadTemplate("src_%u", pipeline.PadSrc, pipeline.PadRequest, anyCaps),
			},
			Properties: []pipeline.PropertySpec{
				{Name: "allow-not-linked", Blurb: "Return OK when no output is linked", Kind: pipeline.PropertyBool, Default: false},
			},
			New: newTee,
		},
		{
			Name: "caps-filter",
			Class: pipeline.Class{
				LongName:    "Caps filter",
				Klass:       "Generic",
				Description: "Restricts the formats negotiated through it",
			},
			Templates: []*pipeline.PadTemplate{alwaysSink(anyCaps), alwaysSrc(anyCaps)},
			Properties: []pipeline.PropertySpec{
				{Name: "caps", Blurb: "Allowed formats", Kind: pipeline.PropertyCaps, Default: anyCaps},
			},
			New: newCapsFilter,
		},
		converter("video-convert", "Video converter", "Filter/Converter/Video", caps.MustParse("video/x-raw")),
		converter("audio-convert", "Audio converter", "Filter/Converter/Audio", caps.MustParse("audio/x-raw")),
		converter("audio-resample", "Audio resampler", "Filter/Converter/Audio", caps.MustParse("audio/x-raw")),
		{
			Name: "fake-sink",
			Class: pipeline.Class{
				LongName:    "Fake sink",
				Klass:       "Sink",
				Description: "Discards everything",
			},
			Templates:  []*pipeline.PadTemplate{alwaysSink(anyCaps)},
			Properties: sinkProps(false),
			New:        newFakeSink,
		},
		autoSink("auto-sink", "Sink", anyCaps),
		autoSink("auto-video-sink", "Sink/Video", caps.MustParse("video/x-raw")),
		autoSink("auto-audio-sink", "Sink/Audio", caps.MustParse("audio/x-raw")),
		{
			Name: "frame-sink",
			Class: pipeline.Class{
				LongName:    "Frame sink",
				Klass:       "Sink/File",
				Description: "Records caps and buffers as varint-framed records",
			},
			Templates: []*pipeline.PadTemplate{alwaysSink(anyCaps)},
			Properties: append(sinkProps(false), pipeline.PropertySpec{
				Name: "location", Blurb: "File to write", Kind: pipeline.PropertyString, Default: "", ReadyOnly: true,
			}),
			New: newFrameSink,
		},
	}
}

func converter(name, long, klass string, c *caps.Caps) *pipeline.Factory {
	return &pipeline.Factory{
		Name:      name,
		Class:     pipeline.Class{LongName: long, Klass: klass, Description: "Passes raw data through unchanged"},
		Templates: []*pipeline.PadTemplate{alwaysSink(c), alwaysSrc(c)},
		New:       newPassthrough,
	}
}

func autoSink(name, klass string, c *caps.Caps) *pipeline.Factory {
	return &pipeline.Factory{
		Name: name,
		Class: pipeline.Class{
			LongName:    "Auto sink",
			Klass:       klass,
			Description: "Renders on the pipeline clock",
		},
		Templates:  []*pipeline.PadTemplate{alwaysSink(c)},
		Properties: sinkProps(true),
		New:        newFakeSink,
	}
}
