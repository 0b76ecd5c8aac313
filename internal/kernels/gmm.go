package kernels

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/shape"
	"github.com/23skdu/longbow-anvil/internal/simd"
)

// gmmLayout is the geometry of a Gaussian mixture scoring stage.
type gmmLayout struct {
	vectors  int
	features int
	states   int
	mixtures int
	rows     []uint32
	maxScore uint64
}

func gmmGeometry(j *Job) (gmmLayout, error) {
	if err := j.require(catalog.OperandMeans, catalog.OperandInverseCovariances, catalog.OperandConstants); err != nil {
		return gmmLayout{}, err
	}
	means := j.Operand(catalog.OperandMeans)
	g := gmmLayout{
		vectors:  int(j.Input.Dim(shape.H)),
		features: int(j.Input.Dim(shape.W)),
		states:   int(means.Dim(shape.H)),
		mixtures: int(means.Dim(shape.W)),
		maxScore: uint64(j.Params.MaxScore),
	}
	if g.maxScore == 0 {
		g.maxScore = math.MaxUint32
	}
	rows, err := j.rows(g.states)
	if err != nil {
		return g, err
	}
	g.rows = rows
	return g, nil
}

// store writes the capped score of (row, vector).
func (g gmmLayout) store(j *Job, out ints, row, v int, score uint64, sat bool) {
	if score > g.maxScore {
		score = g.maxScore
		if sat {
			j.Saturations++
		}
	}
	out.Set(row*g.vectors+v, int64(score))
}

// genericGmm scores with gonum float vectors. Values stay far below 2^53.
type genericGmm struct {
	sat bool
}

func (k genericGmm) Run(j *Job) error {
	g, err := gmmGeometry(j)
	if err != nil {
		return err
	}
	l := g.features
	x := intsOf(j.Input).floats(g.vectors * l)
	means := intsOf(j.Operand(catalog.OperandMeans))
	icov := intsOf(j.Operand(catalog.OperandInverseCovariances))
	consts := intsOf(j.Operand(catalog.OperandConstants))
	out := intsOf(j.Output)
	m := make([]float64, l)
	v := make([]float64, l)
	d := make([]float64, l)
	for r, s := range g.rows {
		for vec := 0; vec < g.vectors; vec++ {
			best := math.Inf(1)
			for mix := 0; mix < g.mixtures; mix++ {
				base := (int(s)*g.mixtures + mix) * l
				for i := 0; i < l; i++ {
					m[i] = float64(means.At(base + i))
					v[i] = float64(icov.At(base + i))
				}
				floats.SubTo(d, x[vec*l:(vec+1)*l], m)
				floats.Mul(d, d)
				score := floats.Dot(d, v) + float64(consts.At(int(s)*g.mixtures+mix))
				best = math.Min(best, score)
			}
			g.store(j, out, r, vec, uint64(best), k.sat)
		}
	}
	return nil
}

type vectorGmm struct {
	lanes int
	sat   bool
}

func (k vectorGmm) Run(j *Job) error {
	g, err := gmmGeometry(j)
	if err != nil {
		return err
	}
	l := g.features
	x := j.Input.Buffer
	means := j.Operand(catalog.OperandMeans).Buffer
	icov := intsOf(j.Operand(catalog.OperandInverseCovariances))
	consts := intsOf(j.Operand(catalog.OperandConstants))
	out := intsOf(j.Output)
	for r, s := range g.rows {
		for vec := 0; vec < g.vectors; vec++ {
			best := uint64(math.MaxUint64)
			xv := x[vec*l : (vec+1)*l]
			for mix := 0; mix < g.mixtures; mix++ {
				base := (int(s)*g.mixtures + mix) * l
				mv := means[base : base+l]
				var dist uint64
				if icov.u16 != nil {
					dist = simd.WeightedSquaredDistance(xv, mv, icov.u16[base:base+l], k.lanes)
				} else {
					dist = simd.WeightedSquaredDistance(xv, mv, icov.u8[base:base+l], k.lanes)
				}
				best = min(best, dist+uint64(consts.At(int(s)*g.mixtures+mix)))
			}
			g.store(j, out, r, vec, best, k.sat)
		}
	}
	return nil
}
