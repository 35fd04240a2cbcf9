package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	ModeSequential = "sequential"
	ModeConcurrent = "concurrent"
)

// Report summarizes a probe run.
type Report struct {
	Target    string        `json:"target"`
	Network   string        `json:"network"`
	Mode      string        `json:"mode"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Sent      int           `json:"sent"`
	Received  int           `json:"received"`
	TimedOut  int           `json:"timed_out"`
	Failed    int           `json:"failed"`
	Stale     int64         `json:"stale"`
	Late      int64         `json:"late"`
	MinRTT    time.Duration `json:"min_rtt_ns"`
	MaxRTT    time.Duration `json:"max_rtt_ns"`
	AvgRTT    time.Duration `json:"avg_rtt_ns"`
	Samples   []Sample      `json:"samples"`

	total time.Duration
	// prober counters when the run started
	staleBase int64
	lateBase  int64
}

func (r *Report) add(sample Sample) {
	r.Received++
	r.Samples = append(r.Samples, sample)
	r.total += sample.RTT

	if r.Received == 1 || sample.RTT < r.MinRTT {
		r.MinRTT = sample.RTT
	}
	if sample.RTT > r.MaxRTT {
		r.MaxRTT = sample.RTT
	}
	r.AvgRTT = r.total / time.Duration(r.Received)
}

// LossRatio is the share of sent probes that got no reply.
func (r *Report) LossRatio() float64 {
	if r.Sent == 0 {
		return 0
	}
	return float64(r.Sent-r.Received) / float64(r.Sent)
}

func (p *Prober) newReport(mode string) *Report {
	return &Report{
		Target:    p.config.Target.String(),
		Network:   p.config.Network,
		Mode:      mode,
		StartTime: time.Now(),
		staleBase: p.Stale(),
		lateBase:  p.Late(),
	}
}

func (p *Prober) finish(r *Report) {
	r.EndTime = time.Now()
	r.Stale = p.Stale() - r.staleBase
	r.Late = p.Late() - r.lateBase
}

// account classifies the outcome of one probe. It returns the error that
// should stop the run, if any.
func (p *Prober) account(r *Report, sample Sample, err error) error {
	r.Sent++

	switch {
	case err == nil:
		r.add(sample)
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.Sent--
		return err
	case errors.Is(err, ErrTimeout):
		r.TimedOut++
		p.log.Warn("probe timed out", "err", err)
	default:
		r.Failed++
		p.log.Error("probe failed", "err", err)
	}
	return nil
}

func emit(ctx context.Context, sink chan<- Sample, sample Sample) {
	if sink == nil {
		return
	}
	select {
	case sink <- sample:
	case <-ctx.Done():
	}
}

// RunSequential sends n probes over one session. Probe k+1 is sent only
// after probe k was answered or timed out. Every received sample is also
// sent to sink when it is not nil.
func (p *Prober) RunSequential(ctx context.Context, n int, build MessageFunc, sink chan<- Sample) (*Report, error) {
	report := p.newReport(ModeSequential)
	defer p.finish(report)

	session, err := p.Dial(ctx)
	if err != nil {
		return report, err
	}
	defer session.Close()

	for i := 0; i < n; i++ {
		payload, err := build(i)
		if err != nil {
			return report, fmt.Errorf("probe: failed to build message %d: %w", i, err)
		}

		sample, err := session.Probe(ctx, i, payload)
		if err := p.account(report, sample, err); err != nil {
			return report, err
		}
		if err == nil {
			emit(ctx, sink, sample)
		}
	}

	return report, nil
}

// RunConcurrent sends n probes, each on its own socket, with at most
// Concurrency of them in flight. Cancelling ctx stops admitting new probes
// and interrupts the ones waiting for a reply; RunConcurrent returns only
// after all of them have finished.
func (p *Prober) RunConcurrent(ctx context.Context, n int, build MessageFunc, sink chan<- Sample) (*Report, error) {
	report := p.newReport(ModeConcurrent)
	defer p.finish(report)

	var (
		mu   sync.Mutex
		stop error
	)

	g := &errgroup.Group{}
	g.SetLimit(p.config.Concurrency)

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}

		payload, err := build(i)
		if err != nil {
			g.Wait()
			return report, fmt.Errorf("probe: failed to build message %d: %w", i, err)
		}

		g.Go(func() error {
			sample, err := p.Probe(ctx, i, payload)

			mu.Lock()
			if err := p.account(report, sample, err); err != nil && stop == nil {
				stop = err
			}
			mu.Unlock()

			if err == nil {
				emit(ctx, sink, sample)
			}
			return nil
		})
	}

	g.Wait()

	if stop == nil {
		stop = ctx.Err()
	}
	return report, stop
}

// Run dispatches to RunSequential or RunConcurrent.
func (p *Prober) Run(ctx context.Context, mode string, n int, build MessageFunc, sink chan<- Sample) (*Report, error) {
	switch mode {
	case ModeSequential, "":
		return p.RunSequential(ctx, n, build, sink)
	case ModeConcurrent:
		return p.RunConcurrent(ctx, n, build, sink)
	default:
		return nil, fmt.Errorf("probe: unknown mode %q", mode)
	}
}
