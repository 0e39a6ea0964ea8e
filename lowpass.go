package wavedaq

import (
	"fmt"
	"math"
	"math/cmplx"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// FilterOrder is the order of the low-pass filter applied to waveforms.
const FilterOrder = 6

// biquad holds one second-order section, normalized so that a0 == 1.
type biquad struct {
	b [3]float64
	a [3]float64 // a[0] is always 1
}

// LowPass is a digital Bessel low-pass filter stored as cascaded second-order sections.
type LowPass struct {
	sections []biquad
	order    int
	wn       float64 // corner as a fraction of the Nyquist frequency
}

// NewBesselLowPass designs a phase-normalized Bessel low-pass filter of the given
// order, with corner frequency cutoffHz, for data sampled at samplingHz.
// The analog prototype is mapped to the z-plane by the bilinear transform with
// frequency pre-warping.
func NewBesselLowPass(order int, cutoffHz, samplingHz float64) (*LowPass, error) {
	if order < 1 {
		return nil, fmt.Errorf("filter order %d, want >= 1", order)
	}
	wn := cutoffHz / (samplingHz / 2)
	if !(wn > 0 && wn < 1) {
		return nil, invalidChannelf("cutoff %v Hz must lie strictly between 0 and the Nyquist frequency %v Hz",
			cutoffHz, samplingHz/2)
	}
	analog, err := besselPoles(order)
	if err != nil {
		return nil, err
	}

	// Pre-warp with fs=2, so the bilinear transform is z = (4+s)/(4-s).
	const fs2 = 4.0
	warped := fs2 * math.Tan(math.Pi*wn/2)
	gain := math.Pow(warped, float64(order))
	denom := complex(1, 0)
	digital := make([]complex128, len(analog))
	for i, p := range analog {
		p *= complex(warped, 0)
		denom *= complex(fs2, 0) - p
		digital[i] = (complex(fs2, 0) + p) / (complex(fs2, 0) - p)
	}
	gain /= real(denom)

	lp := &LowPass{order: order, wn: wn, sections: polesToSections(digital)}
	for i := range lp.sections[0].b {
		lp.sections[0].b[i] *= gain
	}
	return lp, nil
}

// besselPoles returns the poles of the analog Bessel prototype of the given order,
// normalized so the phase response reaches its midpoint at 1 rad/s. They are the
// roots of the reverse Bessel polynomial, found as companion-matrix eigenvalues.
func besselPoles(order int) ([]complex128, error) {
	n := order
	coef := reverseBesselCoefficients(n) // coef[k] multiplies s^k; coef[n] == 1
	companion := mat.NewDense(n, n, nil)
	for j := 0; j < n; j++ {
		companion.Set(0, j, -coef[n-1-j])
	}
	for i := 1; i < n; i++ {
		companion.Set(i, i-1, 1)
	}
	var eig mat.Eigen
	if ok := eig.Factorize(companion, mat.EigenNone); !ok {
		return nil, fmt.Errorf("eigen-decomposition of the order-%d Bessel companion matrix failed", n)
	}
	poles := eig.Values(nil)
	scale := complex(math.Pow(coef[0], -1/float64(n)), 0)
	for i := range poles {
		poles[i] *= scale
	}
	return poles, nil
}

// reverseBesselCoefficients returns a_k = (2n-k)! / (2^(n-k) k! (n-k)!) for k=0..n.
func reverseBesselCoefficients(n int) []float64 {
	coef := make([]float64, n+1)
	for k := 0; k <= n; k++ {
		lg2nk, _ := math.Lgamma(float64(2*n-k) + 1)
		lgk, _ := math.Lgamma(float64(k) + 1)
		lgnk, _ := math.Lgamma(float64(n-k) + 1)
		coef[k] = math.Round(math.Exp(lg2nk - lgk - lgnk - float64(n-k)*math.Ln2))
	}
	return coef
}

// polesToSections pairs complex-conjugate poles (and leftover real poles) into
// sections whose zeros all sit at z=-1. Sections are ordered with the poles
// farthest from the unit circle first.
func polesToSections(poles []complex128) []biquad {
	const tol = 1e-10
	var pairs, reals []complex128
	for _, p := range poles {
		switch {
		case imag(p) > tol:
			pairs = append(pairs, p)
		case math.Abs(imag(p)) <= tol:
			reals = append(reals, complex(real(p), 0))
		}
	}
	byRadius := func(ps []complex128) {
		sort.Slice(ps, func(i, j int) bool { return cmplx.Abs(ps[i]) < cmplx.Abs(ps[j]) })
	}
	byRadius(pairs)
	byRadius(reals)

	var sections []biquad
	for i := 0; i+1 < len(reals); i += 2 {
		p1, p2 := real(reals[i]), real(reals[i+1])
		sections = append(sections, biquad{
			b: [3]float64{1, 2, 1},
			a: [3]float64{1, -(p1 + p2), p1 * p2},
		})
	}
	if len(reals)%2 == 1 {
		p := real(reals[len(reals)-1])
		sections = append(sections, biquad{
			b: [3]float64{1, 1, 0},
			a: [3]float64{1, -p, 0},
		})
	}
	for _, p := range pairs {
		sections = append(sections, biquad{
			b: [3]float64{1, 2, 1},
			a: [3]float64{1, -2 * real(p), real(p)*real(p) + imag(p)*imag(p)},
		})
	}
	return sections
}

// Order returns the filter order.
func (lp *LowPass) Order() int {
	return lp.order
}

// DCGain returns the filter's gain at zero frequency (should be 1 to rounding).
func (lp *LowPass) DCGain() float64 {
	g := 1.0
	for _, s := range lp.sections {
		g *= floats.Sum(s.b[:]) / floats.Sum(s.a[:])
	}
	return g
}

// filter runs x through the cascade, starting each section from zi, and returns
// the output. zi is updated in place to the final state.
func (lp *LowPass) filter(x []float64, zi [][2]float64) []float64 {
	y := make([]float64, len(x))
	copy(y, x)
	for s, sec := range lp.sections {
		z0, z1 := zi[s][0], zi[s][1]
		b0, b1, b2 := sec.b[0], sec.b[1], sec.b[2]
		a1, a2 := sec.a[1], sec.a[2]
		for i, xi := range y {
			yi := b0*xi + z0
			z0 = b1*xi - a1*yi + z1
			z1 = b2*xi - a2*yi
			y[i] = yi
		}
		zi[s][0], zi[s][1] = z0, z1
	}
	return y
}

// steadyStateZi returns, per section, the initial state corresponding to a unit
// step response in steady state (multiply by the first input value to use it).
func (lp *LowPass) steadyStateZi() ([][2]float64, error) {
	zi := make([][2]float64, len(lp.sections))
	scale := 1.0
	for s, sec := range lp.sections {
		// Solve (I - A^T) z = B for the 2-state direct-form II transposed section.
		iMinusA := mat.NewDense(2, 2, []float64{
			1 + sec.a[1], -1,
			sec.a[2], 1,
		})
		rhs := mat.NewVecDense(2, []float64{
			sec.b[1] - sec.a[1]*sec.b[0],
			sec.b[2] - sec.a[2]*sec.b[0],
		})
		var z mat.VecDense
		if err := z.SolveVec(iMinusA, rhs); err != nil {
			return nil, fmt.Errorf("steady-state filter state for section %d: %v", s, err)
		}
		zi[s][0] = scale * z.AtVec(0)
		zi[s][1] = scale * z.AtVec(1)
		scale *= floats.Sum(sec.b[:]) / floats.Sum(sec.a[:])
	}
	return zi, nil
}

// padLength is the odd-extension length used by FiltFilt: three times the
// number of taps of the equivalent direct-form filter.
func (lp *LowPass) padLength() int {
	bZeros, aZeros := 0, 0
	for _, s := range lp.sections {
		if s.b[2] == 0 {
			bZeros++
		}
		if s.a[2] == 0 {
			aZeros++
		}
	}
	ntaps := 2*len(lp.sections) + 1 - min(bZeros, aZeros)
	return 3 * ntaps
}

// FiltFilt applies the filter forward and then backward, for zero phase
// distortion. The input is extended at both ends by odd reflection, and each
// pass starts from the steady-state filter state for its first sample.
func (lp *LowPass) FiltFilt(x []float64) ([]float64, error) {
	if len(x) == 0 {
		return []float64{}, nil
	}
	padlen := min(lp.padLength(), len(x)-1)
	ext := oddExtend(x, padlen)

	ziUnit, err := lp.steadyStateZi()
	if err != nil {
		return nil, err
	}
	zi := scaledZi(ziUnit, ext[0])
	y := lp.filter(ext, zi)

	slices.Reverse(y)
	zi = scaledZi(ziUnit, y[0])
	y = lp.filter(y, zi)
	slices.Reverse(y)
	return y[padlen : len(y)-padlen], nil
}

func scaledZi(unit [][2]float64, x0 float64) [][2]float64 {
	zi := make([][2]float64, len(unit))
	for i, z := range unit {
		zi[i] = [2]float64{z[0] * x0, z[1] * x0}
	}
	return zi
}

// oddExtend returns x with n points prepended and appended, each the odd
// reflection of x about its end value.
func oddExtend(x []float64, n int) []float64 {
	if n < 1 {
		return slices.Clone(x)
	}
	L := len(x)
	ext := make([]float64, L+2*n)
	first, last := x[0], x[L-1]
	for i := 0; i < n; i++ {
		ext[i] = 2*first - x[n-i]
		ext[n+L+i] = 2*last - x[L-2-i]
	}
	copy(ext[n:n+L], x)
	return ext
}

// FilterCycle low-pass filters one periodic cycle of a waveform. The cycle is
// tiled three times so the zero-phase pass sees periodic neighbors instead of
// edges, and only the central repetition is returned.
func FilterCycle(cycle []float64, cutoffHz, samplingHz float64) ([]float64, error) {
	lp, err := NewBesselLowPass(FilterOrder, cutoffHz, samplingHz)
	if err != nil {
		return nil, err
	}
	n := len(cycle)
	tiled := make([]float64, 0, 3*n)
	for i := 0; i < 3; i++ {
		tiled = append(tiled, cycle...)
	}
	filtered, err := lp.FiltFilt(tiled)
	if err != nil {
		return nil, err
	}
	return slices.Clone(filtered[n : 2*n]), nil
}
