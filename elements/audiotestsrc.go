package elements

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

// Waveforms of the audio generator.
const (
	WaveSine = iota
	WaveSquare
	WaveSaw
	WaveTriangle
	WaveSilence
	WaveWhiteNoise
)

var waveNicks = []pipeline.EnumValue{
	{Value: WaveSine, Nick: "sine"},
	{Value: WaveSquare, Nick: "square"},
	{Value: WaveSaw, Nick: "saw"},
	{Value: WaveTriangle, Nick: "triangle"},
	{Value: WaveSilence, Nick: "silence"},
	{Value: WaveWhiteNoise, Nick: "white-noise"},
}

func audioCaps() *caps.Caps {
	return caps.MustParse("audio/x-raw, format=(string)S16LE, layout=(string)interleaved, " +
		"rate=(int)[1,192000], channels=(int)[1,8]")
}

// audioGen produces interleaved S16LE samples. Sample i of a channel is a
// pure function of i so output after a seek matches continuous output.
type audioGen struct {
	params func() audioParams
	limit  func() media.ClockTime

	mu       sync.Mutex
	rate     int
	channels int
	rng      *rand.Rand
}

type audioParams struct {
	wave             int
	freq             float64
	volume           float64
	samplesPerBuffer int
}

// defaultTone is what auto-source plays for test:// audio.
func defaultTone() audioParams {
	return audioParams{wave: WaveSine, freq: 440, volume: 0.8, samplesPerBuffer: 1024}
}

func newAudioGen(params func() audioParams, limit func() media.ClockTime) *audioGen {
	return &audioGen{params: params, limit: limit, rng: rand.New(rand.NewPCG(3, 4))}
}

func (g *audioGen) setCaps(c *caps.Caps) error {
	s := c.Structure(0)
	rate, okR := s.Int("rate")
	ch, okC := s.Int("channels")
	if !okR || !okC || rate <= 0 || ch <= 0 {
		return fmt.Errorf("audio caps without rate or channels: %s", c)
	}
	g.mu.Lock()
	g.rate, g.channels = int(rate), int(ch)
	g.mu.Unlock()
	return nil
}

func (g *audioGen) sampleTime(i int64) media.ClockTime {
	return media.ClockTime(uint64(i) * uint64(media.Second) / uint64(g.rate))
}

func (g *audioGen) next(pos media.ClockTime) (*media.Buffer, pipeline.FlowReturn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rate == 0 {
		return nil, pipeline.FlowNotNegotiated
	}
	first := int64((uint64(pos)*uint64(g.rate) + uint64(media.Second) - 1) / uint64(media.Second))
	pts := g.sampleTime(first)
	if g.limit != nil {
		if lim := g.limit(); lim.IsValid() && pts >= lim {
			return nil, pipeline.FlowEOS
		}
	}
	p := g.params()
	n := p.samplesPerBuffer
	if n <= 0 {
		n = 1024
	}
	freq, wave := p.freq, p.wave
	vol := math.Min(math.Max(p.volume, 0), 1)

	data := make([]byte, n*g.channels*2)
	for k := range n {
		v := int16(vol * math.MaxInt16 * g.sample(wave, freq, first+int64(k)))
		for c := range g.channels {
			binary.LittleEndian.PutUint16(data[(k*g.channels+c)*2:], uint16(v))
		}
	}
	buf := media.NewBuffer(data)
	buf.PTS = pts
	buf.Duration = g.sampleTime(first+int64(n)) - pts
	buf.Offset = uint64(first)
	return buf, pipeline.FlowOK
}

// sample returns the value of sample i in [-1, 1].
func (g *audioGen) sample(wave int, freq float64, i int64) float64 {
	phase := math.Mod(freq*float64(i)/float64(g.rate), 1)
	switch wave {
	case WaveSine:
		return math.Sin(2 * math.Pi * phase)
	case WaveSquare:
		if phase < 0.5 {
			return 1
		}
		return -1
	case WaveSaw:
		return 2*phase - 1
	case WaveTriangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	case WaveWhiteNoise:
		return g.rng.Float64()*2 - 1
	}
	return 0
}

func (g *audioGen) keyUnit(pos media.ClockTime) media.ClockTime { return pos }

// audioTestSource produces a test tone.
type audioTestSource struct {
	e     *pipeline.Element
	core  srcCore
	audio *audioGen
}

func newAudioTestSource() pipeline.Impl { return &audioTestSource{} }

func (a *audioTestSource) Init(e *pipeline.Element) error {
	a.e = e
	a.audio = newAudioGen(a.params, nil)
	a.core.setup(e, a)
	return a.core.addStream(pipeline.NewPadFromTemplate(e.PadTemplate("src"), "src"), a.audio)
}

func (a *audioTestSource) params() audioParams {
	return audioParams{
		wave:             a.e.PropEnum("wave"),
		freq:             a.e.PropFloat("freq"),
		volume:           a.e.PropFloat("volume"),
		samplesPerBuffer: int(a.e.PropInt("samples-per-buffer")),
	}
}

func (a *audioTestSource) ChangeState(tr pipeline.StateChange) pipeline.StateChangeReturn {
	return a.core.changeState(tr)
}

func (a *audioTestSource) PreferredCaps(*pipeline.Pad) *caps.Caps {
	return caps.MustParse("audio/x-raw, rate=(int)44100, channels=(int)1")
}

func (a *audioTestSource) prepare() error { return nil }

func (a *audioTestSource) duration() media.ClockTime {
	n := a.e.PropInt("num-buffers")
	if n < 0 {
		return media.ClockTimeNone
	}
	spb := a.e.PropInt("samples-per-buffer")
	a.audio.mu.Lock()
	rate := a.audio.rate
	a.audio.mu.Unlock()
	if rate == 0 {
		rate = 44100
	}
	return media.ClockTime(uint64(n*spb) * uint64(media.Second) / uint64(rate))
}

func (a *audioTestSource) live() bool { return a.e.PropBool("is-live") }

func (a *audioTestSource) reset() {}
