package chebmom

import (
	"strings"

	"github.com/pkg/errors"
)

// ParseDirection parses an axis combination such as "xx,y" into per-factor
// axis lists: "x"→[0], "y"→[1], "xy"→[0,1]. Factors are separated by
// commas; an empty factor denotes the identity. Only x, y, z and ',' are
// legal, and every axis must exist in the given dimension.
func ParseDirection(s string, dim int) ([][]int, error) {
	dirs := make([][]int, 0, 2)
	for _, factor := range strings.Split(s, ",") {
		axes := make([]int, 0, len(factor))
		for _, c := range factor {
			var axis int
			switch c {
			case 'x':
				axis = 0
			case 'y':
				axis = 1
			case 'z':
				axis = 2
			default:
				return nil, errors.Errorf("direction %q: character %q", s, c)
			}
			if axis >= dim {
				return nil, errors.Errorf("direction %q: axis %q in dimension %d", s, c, dim)
			}
			axes = append(axes, axis)
		}
		if len(axes) > 2 {
			return nil, errors.Errorf("direction %q: %d nested commutators", s, len(axes))
		}
		dirs = append(dirs, axes)
	}
	return dirs, nil
}

// numVelocities counts the commutators across all factors.
func numVelocities(dirs [][]int) int {
	n := 0
	for _, d := range dirs {
		n += len(d)
	}
	return n
}

// symFactor is 1 for an even number of commutators and -1 for odd,
// capturing the anti-Hermiticity of the single-axis velocity.
func symFactor(dirs [][]int) int {
	return 1 - 2*(numVelocities(dirs)%2)
}

func axesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
