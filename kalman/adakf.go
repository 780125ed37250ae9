// Package kalman implements the adaptive Kalman filter (AdaKF) described in
// base spec §4.5: a 1-D offset estimator per non-reference sensor, with
// residual-variance-driven measurement-noise adaptation and transient
// process-noise inflation on sudden jumps.
package kalman

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Config parameterizes one OffsetEstimator.
type Config struct {
	InitialOffset    float64
	ProcessNoise     float64 // Q0
	MeasurementNoise float64 // R0
	ResidualWindow   int
	// JumpSigma is the multiple of sqrt(S) an innovation must exceed to
	// trigger transient Q inflation (base spec §4.5, Open Question (c)).
	JumpSigma float64
	// QJumpMultiplier scales Q for the single update following a detected
	// jump, then Q reverts to Q0.
	QJumpMultiplier float64
}

// applyDefaults fills in the base-spec §4.5 defaults for any zero field.
func (c Config) applyDefaults() Config {
	if c.ProcessNoise == 0 {
		c.ProcessNoise = 1e-4
	}
	if c.MeasurementNoise == 0 {
		c.MeasurementNoise = 1e-3
	}
	if c.ResidualWindow == 0 {
		c.ResidualWindow = 20
	}
	if c.JumpSigma == 0 {
		c.JumpSigma = 5.0
	}
	if c.QJumpMultiplier == 0 {
		c.QJumpMultiplier = 100.0
	}
	return c
}

// OffsetEstimator tracks one non-reference sensor's clock offset relative
// to the reference sensor's clock.
type OffsetEstimator struct {
	cfg Config

	x float64 // offset estimate
	p float64 // covariance

	r0 float64
	r  float64

	residuals    []float64
	residualHead int
	residualLen  int

	jumpPending bool
}

// New constructs an OffsetEstimator with the state invariants of base spec
// §3: x0 = initial_offset, P0 = R0.
func New(cfg Config) *OffsetEstimator {
	cfg = cfg.applyDefaults()
	return &OffsetEstimator{
		cfg:       cfg,
		x:         cfg.InitialOffset,
		p:         cfg.MeasurementNoise,
		r0:        cfg.MeasurementNoise,
		r:         cfg.MeasurementNoise,
		residuals: make([]float64, cfg.ResidualWindow),
	}
}

// Offset returns the current offset estimate.
func (e *OffsetEstimator) Offset() float64 { return e.x }

// Covariance returns the current state covariance P.
func (e *OffsetEstimator) Covariance() float64 { return e.p }

// MeasurementNoise returns the current (possibly adapted) R.
func (e *OffsetEstimator) MeasurementNoise() float64 { return e.r }

// Update feeds one observation z = t_selected - t_reference into the
// filter and returns the updated offset estimate and the raw innovation
// (residual), per base spec §4.5.
func (e *OffsetEstimator) Update(z float64) (offset, residual float64) {
	q := e.cfg.ProcessNoise
	if e.jumpPending {
		q *= e.cfg.QJumpMultiplier
		e.jumpPending = false
	}

	// Predict.
	xPred := e.x
	pPred := e.p + q

	// Innovation.
	y := z - xPred
	s := pPred + e.r
	k := pPred / s

	// Update.
	e.x = xPred + k*y
	e.p = (1 - k) * pPred

	e.pushResidual(y)
	e.adaptMeasurementNoise()

	if math.Abs(y) > e.cfg.JumpSigma*math.Sqrt(s) {
		e.jumpPending = true
	}

	return e.x, y
}

func (e *OffsetEstimator) pushResidual(y float64) {
	e.residuals[e.residualHead] = y
	e.residualHead = (e.residualHead + 1) % len(e.residuals)
	if e.residualLen < len(e.residuals) {
		e.residualLen++
	}
}

// adaptMeasurementNoise recomputes R from the residual-window variance once
// at least half the window is populated, clamped to [0.1*R0, 10*R0], per
// base spec §4.5. The normalizing "scale" left ambiguous by the base spec
// is taken to be R0 itself, so that a residual variance equal to the
// nominal measurement noise leaves R unchanged (Open Question (c)-adjacent
// decision, recorded in DESIGN.md).
func (e *OffsetEstimator) adaptMeasurementNoise() {
	if e.residualLen < len(e.residuals)/2 {
		return
	}
	window := make([]float64, e.residualLen)
	copy(window, e.residuals[:e.residualLen])

	variance := stat.Variance(window, nil)
	r := variance
	r = clamp(r, 0.1*e.r0, 10*e.r0)
	e.r = r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ResidualRMS returns the root-mean-square of the currently retained
// residuals, used by tests verifying base spec §8 invariant 5 (AdaKF
// residual RMS converges below a bound after N observations).
func (e *OffsetEstimator) ResidualRMS() float64 {
	if e.residualLen == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < e.residualLen; i++ {
		sumSq += e.residuals[i] * e.residuals[i]
	}
	return math.Sqrt(sumSq / float64(e.residualLen))
}
