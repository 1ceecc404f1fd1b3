package topology

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/octforest/octant"
)

// shapeDeriv evaluates the trilinear shape-function derivatives at the
// parametric point (u,v,w). Corner k sits at ((k>>0)&1, (k>>1)&1,
// (k>>2)&1).
func shapeDeriv(u, v, w float64) (na, nb, nc [8]float64) {
	for k := 0; k < 8; k++ {
		su, sv, sw := 1.0-u, 1.0-v, 1.0-w
		du, dv, dw := -1.0, -1.0, -1.0
		if k&1 != 0 {
			su, du = u, 1.0
		}
		if k&2 != 0 {
			sv, dv = v, 1.0
		}
		if k&4 != 0 {
			sw, dw = w, 1.0
		}
		na[k] = du * sv * sw
		nb[k] = su * dv * sw
		nc[k] = su * sv * dw
	}
	return na, nb, nc
}

// ElementVolume integrates the trilinear Jacobian of macro block i over a
// 2x2x2 Gauss rule. A negative result flags an inverted input element.
func (c *Complex) ElementVolume(i int, xpts []float64) float64 {
	pt := 1.0 / math.Sqrt(3.0)
	vol := 0.0

	jac := mat.NewDense(3, 3, nil)
	for kk := 0; kk < 2; kk++ {
		for jj := 0; jj < 2; jj++ {
			for ii := 0; ii < 2; ii++ {
				u := 0.5 + (float64(ii)-0.5)*pt
				v := 0.5 + (float64(jj)-0.5)*pt
				w := 0.5 + (float64(kk)-0.5)*pt

				na, nb, nc := shapeDeriv(u, v, w)
				jac.Zero()
				for k := 0; k < 8; k++ {
					n := c.Conn[8*i+k]
					for d := 0; d < 3; d++ {
						x := xpts[3*n+d]
						jac.Set(d, 0, jac.At(d, 0)+x*na[k])
						jac.Set(d, 1, jac.At(d, 1)+x*nb[k])
						jac.Set(d, 2, jac.At(d, 2)+x*nc[k])
					}
				}
				vol += 0.125 * mat.Det(jac)
			}
		}
	}
	return vol
}

// NodeLocation maps an integer position in block b's octant frame to
// world coordinates by trilinear interpolation of the block's corner
// points.
func (c *Complex) NodeLocation(b int, xpts []float64, p [3]int32) [3]float64 {
	u := float64(p[0]) / float64(octant.HMax)
	v := float64(p[1]) / float64(octant.HMax)
	w := float64(p[2]) / float64(octant.HMax)

	var out [3]float64
	for k := 0; k < 8; k++ {
		nu, nv, nw := 1.0-u, 1.0-v, 1.0-w
		if k&1 != 0 {
			nu = u
		}
		if k&2 != 0 {
			nv = v
		}
		if k&4 != 0 {
			nw = w
		}
		shape := nu * nv * nw
		n := c.Conn[8*b+k]
		for d := 0; d < 3; d++ {
			out[d] += xpts[3*n+d] * shape
		}
	}
	return out
}
