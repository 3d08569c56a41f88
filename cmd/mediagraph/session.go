package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/mediagraph/elements"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/metrics"
	"github.com/zsiec/mediagraph/pipeline"
)

// session holds what every command needs to build and run one pipeline.
type session struct {
	reg         *pipeline.Registry
	metricsAddr string
	promReg     *prometheus.Registry
	metrics     *metrics.Metrics
}

func newSession(v *viper.Viper) *session {
	s := &session{
		reg:         elements.NewRegistry(),
		metricsAddr: v.GetString("metrics-addr"),
	}
	if s.metricsAddr != "" {
		s.promReg = prometheus.NewRegistry()
		s.promReg.MustRegister(collectors.NewGoCollector())
		s.metrics = metrics.New(s.promReg)
	}
	return s
}

func (s *session) pipelineOptions() []pipeline.Option {
	return []pipeline.Option{pipeline.WithMetrics(s.metrics)}
}

func (s *session) newPipeline(name string) *pipeline.Pipeline {
	return pipeline.NewPipeline(name, s.pipelineOptions()...)
}

func (s *session) make(factory, name string, props map[string]any) (*pipeline.Element, error) {
	e, err := s.reg.Make(factory, name)
	if err != nil {
		return nil, err
	}
	for k, v := range props {
		if err := e.SetProperty(k, v); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// hooks customise the bus loop of run.
type hooks struct {
	// message sees every message before the default handling. Returning
	// true stops the pipeline.
	message func(*pipeline.Message) bool
	// tick runs every interval while the pipeline runs.
	tick     func()
	interval time.Duration
}

// run plays p until EOS, an error, a signal or a hook stops it, then sets
// it to NULL. The metrics server, when configured, runs alongside.
func (s *session) run(ctx context.Context, p *pipeline.Pipeline, h hooks) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	if s.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: s.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", s.metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return s.watch(ctx, p, h)
	})
	return g.Wait()
}

func (s *session) watch(ctx context.Context, p *pipeline.Pipeline, h hooks) error {
	log := slog.With("component", "cli", "pipeline", p.Name())
	if p.SetState(pipeline.StatePlaying) == pipeline.StateChangeFailure {
		p.SetState(pipeline.StateNull)
		if err := p.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%s refused to play", p.Name())
	}
	defer p.SetState(pipeline.StateNull)

	bus := p.Bus()
	lastTick := time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Info("stopping")
			return nil
		default:
		}

		m := bus.TimedPopFiltered(media.FromDuration(50*time.Millisecond), pipeline.MessageAny)
		if h.tick != nil && time.Since(lastTick) >= h.interval {
			h.tick()
			lastTick = time.Now()
		}
		if m == nil {
			continue
		}
		if h.message != nil && h.message(m) {
			return nil
		}

		switch m.Type {
		case pipeline.MessageEOS:
			log.Info("end of stream")
			return nil
		case pipeline.MessageError:
			return fmt.Errorf("%s: %w (%s)", m.SourceName(), m.Err, m.Debug)
		case pipeline.MessageWarning:
			log.Warn("warning", "element", m.SourceName(), "error", m.Err, "debug", m.Debug)
		case pipeline.MessageStateChanged:
			if m.Source == p.Element {
				old, cur, pending := m.ParseStateChanged()
				log.Info("state changed", "from", old, "to", cur, "pending", pending)
			}
		case pipeline.MessageDurationChanged:
			if d, ok := p.QueryDuration(media.FormatTime); ok {
				log.Info("duration", "duration", media.ClockTime(d))
			}
		case pipeline.MessageTag:
			log.Debug("tags", "element", m.SourceName(), "tags", m.Tags)
		}
	}
}

// syncBranch brings elements added to a running pipeline to its state,
// sinks first. While the pipeline is still prerolling they only go to
// PAUSED so the pipeline's own step can complete.
func syncBranch(p *pipeline.Pipeline, branch ...*pipeline.Element) error {
	_, pending, _ := p.GetState(0)
	for i := len(branch) - 1; i >= 0; i-- {
		e := branch[i]
		if pending != pipeline.StateVoidPending {
			if e.SetState(pipeline.StatePaused) == pipeline.StateChangeFailure {
				return fmt.Errorf("%s failed to reach PAUSED", e.Name())
			}
			continue
		}
		if !e.SyncStateWithParent() {
			return fmt.Errorf("%s failed to follow %s", e.Name(), p.Name())
		}
	}
	return nil
}
