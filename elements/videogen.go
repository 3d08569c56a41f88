package elements

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

// Test patterns, in property order.
const (
	PatternSMPTE = iota
	PatternSnow
	PatternBlack
	PatternWhite
	PatternRed
	PatternGreen
	PatternBlue
	PatternCheckers
)

var patternNicks = []pipeline.EnumValue{
	{Value: PatternSMPTE, Nick: "smpte"},
	{Value: PatternSnow, Nick: "snow"},
	{Value: PatternBlack, Nick: "black"},
	{Value: PatternWhite, Nick: "white"},
	{Value: PatternRed, Nick: "red"},
	{Value: PatternGreen, Nick: "green"},
	{Value: PatternBlue, Nick: "blue"},
	{Value: PatternCheckers, Nick: "checkers-1"},
}

type rgb struct{ r, g, b uint8 }

// smpteBars are the seven 75% color bars, left to right.
var smpteBars = [7]rgb{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
}

var solidColors = map[int]rgb{
	PatternBlack: {0, 0, 0},
	PatternWhite: {255, 255, 255},
	PatternRed:   {255, 0, 0},
	PatternGreen: {0, 255, 0},
	PatternBlue:  {0, 0, 255},
}

// smpteBarColor returns the color of column x of a frame w pixels wide.
func smpteBarColor(x, w int) rgb {
	return smpteBars[x*len(smpteBars)/w]
}

func (c rgb) yuv() (y, u, v uint8) {
	r, g, b := float64(c.r), float64(c.g), float64(c.b)
	y = uint8(0.257*r + 0.504*g + 0.098*b + 16)
	u = uint8(-0.148*r - 0.291*g + 0.439*b + 128)
	v = uint8(0.439*r - 0.368*g - 0.071*b + 128)
	return y, u, v
}

// videoCaps is the raw video format range the generators can produce.
func videoCaps() *caps.Caps {
	return caps.MustParse("video/x-raw, format=(string){ I420, RGB, GRAY8 }, " +
		"width=(int)[16,4096], height=(int)[16,4096], framerate=(fraction)[1/1,120/1]")
}

// videoGen renders test pattern frames for one negotiated format. Frame n
// starts at n/framerate. Frames are key frames every keyEvery frames.
type videoGen struct {
	pattern func() int

	mu       sync.Mutex
	format   string
	width    int
	height   int
	fps      caps.Fraction
	keyEvery int64
	keyInt   media.ClockTime
	limit    func() media.ClockTime
	cached   []byte
	cachedP  int
	rng      *rand.Rand
}

func newVideoGen(pattern func() int, keyInterval media.ClockTime, limit func() media.ClockTime) *videoGen {
	return &videoGen{
		pattern:  pattern,
		keyInt:   keyInterval,
		keyEvery: 1,
		limit:    limit,
		fps:      caps.NewFraction(30, 1),
		cachedP:  -1,
		rng:      rand.New(rand.NewPCG(1, 2)),
	}
}

func (g *videoGen) setCaps(c *caps.Caps) error {
	s := c.Structure(0)
	format, _ := s.Str("format")
	if format == "" {
		format = "RGB"
	}
	switch format {
	case "I420", "RGB", "GRAY8":
	default:
		return fmt.Errorf("unsupported video format %q", format)
	}
	w, okW := s.Int("width")
	h, okH := s.Int("height")
	if !okW || !okH || w <= 0 || h <= 0 {
		return fmt.Errorf("video caps without size: %s", c)
	}
	fps, ok := s.Fraction("framerate")
	if !ok || fps.Num <= 0 {
		fps = caps.NewFraction(30, 1)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.format, g.width, g.height, g.fps = format, int(w), int(h), fps
	g.keyEvery = 1
	if g.keyInt > 0 {
		g.keyEvery = max(1, int64(g.frameAt(g.keyInt)))
	}
	g.cached, g.cachedP = nil, -1
	return nil
}

// pts returns the start of frame n. Callers hold g.mu.
func (g *videoGen) pts(n int64) media.ClockTime {
	return media.ClockTime(uint64(n) * uint64(media.Second) * uint64(g.fps.Den) / uint64(g.fps.Num))
}

// frameAt returns the first frame starting at or after pos. Callers hold
// g.mu.
func (g *videoGen) frameAt(pos media.ClockTime) int64 {
	unit := uint64(media.Second) * uint64(g.fps.Den)
	return int64((uint64(pos)*uint64(g.fps.Num) + unit - 1) / unit)
}

// frameDuration returns the length of one frame at the negotiated rate.
func (g *videoGen) frameDuration() media.ClockTime {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pts(1)
}

func (g *videoGen) next(pos media.ClockTime) (*media.Buffer, pipeline.FlowReturn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.format == "" {
		return nil, pipeline.FlowNotNegotiated
	}
	n := g.frameAt(pos)
	pts := g.pts(n)
	if g.limit != nil {
		if lim := g.limit(); lim.IsValid() && pts >= lim {
			return nil, pipeline.FlowEOS
		}
	}
	buf := media.NewBuffer(g.render())
	buf.PTS = pts
	buf.Duration = g.pts(n+1) - pts
	buf.Offset = uint64(n)
	if n%g.keyEvery != 0 {
		buf.Flags |= media.FlagDeltaUnit
	}
	return buf, pipeline.FlowOK
}

func (g *videoGen) keyUnit(pos media.ClockTime) media.ClockTime {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fps.Num <= 0 {
		return pos
	}
	unit := uint64(media.Second) * uint64(g.fps.Den)
	n := int64(uint64(pos) * uint64(g.fps.Num) / unit)
	return g.pts(n - n%g.keyEvery)
}

// render returns a fresh frame. Callers hold g.mu.
func (g *videoGen) render() []byte {
	p := g.pattern()
	if p != PatternSnow && p == g.cachedP && g.cached != nil {
		return slices.Clone(g.cached)
	}
	pixel := func(x, y int) rgb {
		switch p {
		case PatternSMPTE:
			return smpteBarColor(x, g.width)
		case PatternSnow:
			v := uint8(g.rng.IntN(256))
			return rgb{v, v, v}
		case PatternCheckers:
			if (x+y)%2 == 0 {
				return rgb{255, 255, 255}
			}
			return rgb{}
		}
		return solidColors[p]
	}

	w, h := g.width, g.height
	var data []byte
	switch g.format {
	case "RGB":
		data = make([]byte, w*h*3)
		for y := range h {
			for x := range w {
				c := pixel(x, y)
				i := (y*w + x) * 3
				data[i], data[i+1], data[i+2] = c.r, c.g, c.b
			}
		}
	case "GRAY8":
		data = make([]byte, w*h)
		for y := range h {
			for x := range w {
				data[y*w+x], _, _ = pixel(x, y).yuv()
			}
		}
	case "I420":
		cw, ch := (w+1)/2, (h+1)/2
		data = make([]byte, w*h+2*cw*ch)
		uPlane, vPlane := data[w*h:w*h+cw*ch], data[w*h+cw*ch:]
		for y := range h {
			for x := range w {
				yy, u, v := pixel(x, y).yuv()
				data[y*w+x] = yy
				if x%2 == 0 && y%2 == 0 {
					uPlane[(y/2)*cw+x/2] = u
					vPlane[(y/2)*cw+x/2] = v
				}
			}
		}
	}
	if p != PatternSnow {
		g.cached, g.cachedP = data, p
		return slices.Clone(data)
	}
	return data
}
