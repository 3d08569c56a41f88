package elements

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

// frameSink records caps, buffers and EOS as varint-framed records, either
// to the file named by the location property or to a writer installed with
// SetFrameSinkWriter. auto-source plays the file back with a file:// URI.
type frameSink struct {
	baseSink

	outMu   sync.Mutex
	out     io.Writer
	w       *bufio.Writer
	closer  io.Closer
	scratch []byte
	err     error
}

func newFrameSink() pipeline.Impl { return &frameSink{} }

func (f *frameSink) Init(e *pipeline.Element) error {
	return f.setup(e, f)
}

// SetFrameSinkWriter makes the frame-sink e write to w instead of a file.
// It must be called in NULL or READY.
func SetFrameSinkWriter(e *pipeline.Element, w io.Writer) error {
	f, ok := e.Impl().(*frameSink)
	if !ok {
		return fmt.Errorf("elements: %s is not a frame-sink", e.Name())
	}
	if e.State() > pipeline.StateReady {
		return fmt.Errorf("%w: writer of %s", pipeline.ErrPropertyState, e.Name())
	}
	f.outMu.Lock()
	f.out = w
	f.outMu.Unlock()
	return nil
}

func (f *frameSink) ChangeState(tr pipeline.StateChange) pipeline.StateChangeReturn {
	switch tr {
	case pipeline.NullToReady:
		if err := f.open(); err != nil {
			f.e.PostError(pipeline.DomainResource, err, "cannot open output")
			return pipeline.StateChangeFailure
		}
	case pipeline.ReadyToNull:
		if err := f.close(); err != nil {
			f.e.PostWarning(pipeline.DomainResource, err, "closing output")
		}
	}
	return f.baseSink.ChangeState(tr)
}

func (f *frameSink) open() error {
	f.outMu.Lock()
	defer f.outMu.Unlock()
	f.err = nil
	if f.out != nil {
		f.w = bufio.NewWriter(f.out)
		return nil
	}
	loc := f.e.PropString("location")
	if loc == "" {
		return fmt.Errorf("elements: %s: no location", f.e.Name())
	}
	file, err := os.Create(loc)
	if err != nil {
		return err
	}
	f.w = bufio.NewWriter(file)
	f.closer = file
	return nil
}

func (f *frameSink) close() error {
	f.outMu.Lock()
	defer f.outMu.Unlock()
	var err error
	if f.w != nil {
		err = f.w.Flush()
		f.w = nil
	}
	if f.closer != nil {
		if cerr := f.closer.Close(); err == nil {
			err = cerr
		}
		f.closer = nil
	}
	return err
}

// write appends one record. Write errors are remembered and reported once.
func (f *frameSink) write(record []byte) error {
	f.outMu.Lock()
	defer f.outMu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.w == nil {
		return nil
	}
	if _, err := f.w.Write(record); err != nil {
		f.err = err
		return err
	}
	return nil
}

func (f *frameSink) render(buf *media.Buffer) pipeline.FlowReturn {
	f.outMu.Lock()
	rec, err := media.AppendBuffer(f.scratch[:0], buf)
	if err == nil {
		f.scratch = rec
	}
	f.outMu.Unlock()
	if err == nil {
		err = f.write(rec)
	}
	if err != nil {
		f.e.PostError(pipeline.DomainResource, err, "writing record")
		return pipeline.FlowError
	}
	return pipeline.FlowOK
}

func (f *frameSink) setCaps(c *caps.Caps) error {
	return f.write(media.AppendCaps(nil, c.String()))
}

func (f *frameSink) eos() {
	if err := f.write(media.AppendEOS(nil)); err != nil {
		f.e.PostError(pipeline.DomainResource, err, "writing eos")
		return
	}
	f.outMu.Lock()
	defer f.outMu.Unlock()
	if f.w != nil {
		if err := f.w.Flush(); err != nil {
			f.err = err
		}
	}
}
