// Package device selects the capture device for a session.
//
// Declared device capabilities are unreliable, so selection is empirical.
// Every capture-capable endpoint is scored by name heuristics and channel
// count; candidates are then tried in descending score order, each at a fixed
// list of sample rates, with a short trial capture. The first (device, rate)
// pair whose trial yields a usable signal wins.
package device

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// DefaultRates is the sample-rate preference order for trial captures.
var DefaultRates = []int{44100, 48000, 16000, 22050, 32000, 8000}

// DefaultTrialDuration is the length of one trial capture.
const DefaultTrialDuration = 100 * time.Millisecond

// DefaultParallelTrials caps concurrent trial captures in [Catalog.VerifyAll].
const DefaultParallelTrials = 4

// trialGrace bounds how long a trial may take beyond its nominal duration
// before the device is considered unresponsive.
const trialGrace = time.Second

// Candidate is a scored capture device.
type Candidate struct {
	audio.DeviceInfo

	// Score is the heuristic suitability score from [Score].
	Score int

	// Verified is set once a trial capture succeeded at SampleRate.
	Verified bool

	// SampleRate is the rate the trial succeeded at. Zero until verified.
	SampleRate int

	// TrialEnergy is the signal energy of the successful trial.
	TrialEnergy float64

	// TrialErr is the last trial failure when no rate worked.
	TrialErr error
}

// Selected is the device and rate chosen for the session. It does not change
// for the lifetime of the session.
type Selected struct {
	Device     audio.DeviceInfo
	SampleRate int
	Score      int
}

// Attempt records one failed trial capture.
type Attempt struct {
	Device     string
	SampleRate int
	Err        error
}

// NoDeviceError is returned by [Catalog.Select] when no candidate passes a
// trial capture at any rate. It is fatal to session start.
type NoDeviceError struct {
	// Candidates is the number of devices that were scored above zero.
	Candidates int

	// Attempts lists every failed (device, rate) trial in the order tried.
	Attempts []Attempt
}

func (e *NoDeviceError) Error() string {
	if e.Candidates == 0 {
		return "device: no capture device candidates found"
	}
	return fmt.Sprintf("device: no working capture device among %d candidates (%d trial captures failed)",
		e.Candidates, len(e.Attempts))
}

// Unwrap returns the individual trial failures.
func (e *NoDeviceError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// errDegenerate marks a trial that captured only silence or NaN.
var errDegenerate = errors.New("degenerate signal")

// Option is a functional option for [New].
type Option func(*Catalog)

// WithRates overrides the sample-rate preference order.
func WithRates(rates []int) Option {
	return func(c *Catalog) {
		if len(rates) > 0 {
			c.rates = slices.Clone(rates)
		}
	}
}

// WithTrialDuration overrides the trial capture length.
func WithTrialDuration(d time.Duration) Option {
	return func(c *Catalog) {
		if d > 0 {
			c.trial = d
		}
	}
}

// WithChannels sets the channel count used for trial captures.
func WithChannels(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.channels = n
		}
	}
}

// WithParallelTrials caps how many devices [Catalog.VerifyAll] tries at once.
func WithParallelTrials(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.parallel = n
		}
	}
}

// WithPreferredName restricts candidates to devices whose name contains name
// (case-insensitive). An empty name disables the filter.
func WithPreferredName(name string) Option {
	return func(c *Catalog) { c.preferred = strings.ToLower(strings.TrimSpace(name)) }
}

// Catalog scores and verifies the capture devices of one [audio.Backend].
type Catalog struct {
	backend   audio.Backend
	rates     []int
	trial     time.Duration
	channels  int
	preferred string
	parallel  int
}

// New returns a Catalog over backend.
func New(backend audio.Backend, opts ...Option) *Catalog {
	c := &Catalog{
		backend:  backend,
		rates:    slices.Clone(DefaultRates),
		trial:    DefaultTrialDuration,
		channels: 1,
		parallel: DefaultParallelTrials,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Candidates lists capture devices that score above zero, highest score
// first. Ties keep the backend's enumeration order.
func (c *Catalog) Candidates(ctx context.Context) ([]Candidate, error) {
	devs, err := c.backend.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("device: list: %w", err)
	}
	var out []Candidate
	for _, d := range devs {
		if d.InputChannels <= 0 {
			continue
		}
		if c.preferred != "" && !strings.Contains(strings.ToLower(d.Name), c.preferred) {
			continue
		}
		s := Score(d)
		if s <= 0 {
			continue
		}
		out = append(out, Candidate{DeviceInfo: d, Score: s})
	}
	slices.SortStableFunc(out, func(a, b Candidate) int { return cmp.Compare(b.Score, a.Score) })
	return out, nil
}

// Select returns the highest-scoring candidate that passes a trial capture,
// at the first rate in preference order that works. It fails with
// *[NoDeviceError] only when every candidate fails at every rate.
func (c *Catalog) Select(ctx context.Context) (Selected, error) {
	cands, err := c.Candidates(ctx)
	if err != nil {
		return Selected{}, err
	}
	noDev := &NoDeviceError{Candidates: len(cands)}
	for _, cand := range cands {
		for _, rate := range c.rates {
			if err := ctx.Err(); err != nil {
				return Selected{}, err
			}
			energy, err := c.Verify(ctx, cand.DeviceInfo, rate)
			if err != nil {
				slog.Debug("trial capture failed", "device", cand.Name, "rate", rate, "err", err)
				noDev.Attempts = append(noDev.Attempts, Attempt{Device: cand.Name, SampleRate: rate, Err: err})
				continue
			}
			slog.Info("capture device selected",
				"device", cand.Name, "rate", rate, "score", cand.Score, "trial_energy", energy)
			return Selected{Device: cand.DeviceInfo, SampleRate: rate, Score: cand.Score}, nil
		}
	}
	return Selected{}, noDev
}

// VerifyAll runs the trial matrix on every candidate, several devices at a
// time, without stopping at the first success. Rates of one device are still
// tried in preference order. Candidates keep their score order; each carries
// its first working rate or its last trial error.
func (c *Catalog) VerifyAll(ctx context.Context) ([]Candidate, error) {
	cands, err := c.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for i := range cands {
		g.Go(func() error {
			cand := &cands[i]
			for _, rate := range c.rates {
				if err := gctx.Err(); err != nil {
					return err
				}
				energy, err := c.Verify(gctx, cand.DeviceInfo, rate)
				if err != nil {
					cand.TrialErr = err
					continue
				}
				cand.Verified, cand.SampleRate, cand.TrialEnergy, cand.TrialErr = true, rate, energy, nil
				return nil
			}
			return nil
		})
	}
	return cands, g.Wait()
}

// Verify performs one trial capture on dev at rate and returns the measured
// energy. A capture whose energy is zero or NaN is rejected.
func (c *Catalog) Verify(ctx context.Context, dev audio.DeviceInfo, rate int) (float64, error) {
	frames := audio.FramesFor(c.trial, rate)
	if frames <= 0 {
		return 0, fmt.Errorf("device: trial duration %v too short at %d Hz", c.trial, rate)
	}
	want := frames * c.channels

	var (
		mu        sync.Mutex
		collected = make([]float32, 0, want)
		full      = make(chan struct{})
		fullOnce  sync.Once
	)
	onChunk := func(ch audio.Chunk) {
		mu.Lock()
		defer mu.Unlock()
		if len(collected) >= want {
			return
		}
		collected = append(collected, ch.Samples...)
		if len(collected) >= want {
			fullOnce.Do(func() { close(full) })
		}
	}

	stream, err := c.backend.OpenStream(ctx, dev, audio.StreamConfig{
		SampleRate:     rate,
		Channels:       c.channels,
		FramesPerChunk: frames,
	}, onChunk)
	if err != nil {
		return 0, err
	}

	timer := time.NewTimer(c.trial + trialGrace)
	defer timer.Stop()
	var waitErr error
	select {
	case <-full:
	case <-stream.Done():
		waitErr = stream.Err()
	case <-timer.C:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	if err := stream.Close(); err != nil {
		slog.Debug("closing trial stream", "device", dev.Name, "err", err)
	}
	if waitErr != nil {
		return 0, waitErr
	}

	mu.Lock()
	samples := collected
	mu.Unlock()
	if len(samples) == 0 {
		return 0, fmt.Errorf("no audio within %v", c.trial+trialGrace)
	}
	energy := audio.RMS(samples)
	if audio.Degenerate(energy) {
		return energy, errDegenerate
	}
	return energy, nil
}
