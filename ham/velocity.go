package ham

import (
	"github.com/pkg/errors"
)

// Velocity holds the coefficient tables of a velocity operator: v^α = δ_α·t
// for a single axis, v^{αβ} = −δ_α·δ_β·t for two. The single-axis operator
// is not self-adjoint; the accumulators compensate with an explicit sign.
type Velocity[T Scalar] struct {
	Axes    []int
	Hop     [][]T
	Pattern [][]T
	Border  []T
}

// Coefficient maps a bond displacement and amplitude to the velocity table
// entry for the given axes.
func Coefficient[T Scalar](axes []int, disp [3]int, t T) T {
	switch len(axes) {
	case 1:
		return Scale(t, float64(disp[axes[0]]))
	default:
		return Scale(t, -float64(disp[axes[0]]*disp[axes[1]]))
	}
}

// BuildVelocity builds the velocity table for up to two axes into a slot.
// It must be called after GenerateDisorder, because the border table is
// aligned with the realization's border list. An empty axis list stores the
// identity (a nil table).
func (h *Ham[T]) BuildVelocity(axes []int, slot int) error {
	if slot < 0 || slot >= len(h.vel) {
		return errors.Errorf("velocity slot %d", slot)
	}
	if len(axes) == 0 {
		h.vel[slot] = nil
		return nil
	}
	if len(axes) > 2 {
		return errors.Errorf("%d axes", len(axes))
	}
	for _, a := range axes {
		if a < 0 || a >= h.Lat.D {
			return errors.Errorf("axis %d in dimension %d", a, h.Lat.D)
		}
	}

	v := &Velocity[T]{Axes: axes}
	v.Hop = make([][]T, len(h.Desc.Hops))
	for o, hops := range h.Desc.Hops {
		v.Hop[o] = make([]T, len(hops))
		for ib, hop := range hops {
			v.Hop[o][ib] = Coefficient(axes, hop.Disp, hop.T)
		}
	}
	v.Pattern = make([][]T, len(h.Desc.Patterns))
	for p := range h.Desc.Patterns {
		pat := &h.Desc.Patterns[p]
		st := &h.patterns[p]
		v.Pattern[p] = make([]T, len(pat.Bonds))
		for k, b := range pat.Bonds {
			v.Pattern[p][k] = Coefficient(axes, st.bondDisp[k], b.T)
		}
	}
	v.Border = make([]T, len(h.border))
	for i, b := range h.border {
		v.Border[i] = Coefficient(axes, b.Disp, b.T)
	}
	h.vel[slot] = v
	return nil
}

// Velocity returns the table in a slot; nil denotes the identity.
func (h *Ham[T]) Velocity(slot int) *Velocity[T] { return h.vel[slot] }
