package arbiter

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// spectra computes magnitude spectra with one cached FFT plan per length.
// Not safe for concurrent use.
type spectra struct {
	plans map[int]*fourier.FFT
	seq   []float64
	coef  []complex128
}

// magnitude returns |X[k]| for k in [0, n/2] of the real signal samples.
func (s *spectra) magnitude(samples []float32) []float64 {
	n := len(samples)
	if n < 2 {
		return nil
	}
	if s.plans == nil {
		s.plans = make(map[int]*fourier.FFT)
	}
	plan, ok := s.plans[n]
	if !ok {
		plan = fourier.NewFFT(n)
		s.plans[n] = plan
	}
	if cap(s.seq) < n {
		s.seq = make([]float64, n)
	}
	seq := s.seq[:n]
	for i, v := range samples {
		seq[i] = float64(v)
	}
	if cap(s.coef) < n/2+1 {
		s.coef = make([]complex128, n/2+1)
	}
	s.coef = plan.Coefficients(s.coef[:n/2+1], seq)
	mags := make([]float64, len(s.coef))
	for i, c := range s.coef {
		mags[i] = cmplx.Abs(c)
	}
	return mags
}

// cosineSimilarity returns the cosine of the angle between a and b over
// their common length, or 0 when either is silent.
func cosineSimilarity(a, b []float64) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
