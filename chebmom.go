// Package chebmom estimates Chebyshev spectral moments of large sparse
// tight-binding Hamiltonians with the kernel polynomial method: stochastic
// traces of the form Tr[v^α T_n(H) v^β T_m(H) …] over random vectors and
// disorder realizations, on a lattice decomposed into per-thread subdomains
// glued together by ghost-cell exchanges. The Hamiltonian must be rescaled
// to have its spectrum inside (−1, 1).
package chebmom

import (
	"math/rand/v2"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/fumin/chebmom/ham"
	"github.com/fumin/chebmom/lattice"
)

// DefaultBlockSize is the ring-buffer width of the 2D and 3D block
// contractions.
const DefaultBlockSize = 10

// Job describes one moment estimation: the lattice decomposition, the
// Hamiltonian, the moment tensor shape, and the sampling counts.
type Job[T ham.Scalar] struct {
	Lat  lattice.Lattice
	Desc *ham.Description[T]

	// NMoments has one entry per factor of the moment tensor; Dirs is the
	// parsed direction, one axis list per factor.
	NMoments []int
	Dirs     [][]int

	NRandom   int
	NDisorder int
	Seed      uint64

	// BlockSize is the block width of the 2D/3D contractions;
	// DefaultBlockSize when zero.
	BlockSize int
}

func (j *Job[T]) check() error {
	if err := j.Lat.Check(); err != nil {
		return errors.Wrap(err, "")
	}
	if err := j.Desc.Check(&j.Lat); err != nil {
		return errors.Wrap(err, "")
	}
	if len(j.NMoments) < 1 || len(j.NMoments) > 3 {
		return errors.Errorf("%d moment factors", len(j.NMoments))
	}
	if len(j.Dirs) != len(j.NMoments) {
		return errors.Errorf("%d directions, %d moment factors", len(j.Dirs), len(j.NMoments))
	}
	for _, n := range j.NMoments {
		if n < 2 || n%2 != 0 {
			return errors.Errorf("moment count %d is not even", n)
		}
	}
	for _, axes := range j.Dirs {
		if len(axes) > 2 {
			return errors.Errorf("%d axes in one factor", len(axes))
		}
		for _, a := range axes {
			if a < 0 || a >= j.Lat.D {
				return errors.Errorf("axis %d in dimension %d", a, j.Lat.D)
			}
		}
	}
	if j.NRandom < 1 || j.NDisorder < 1 {
		return errors.Errorf("random vectors %d, disorder realizations %d", j.NRandom, j.NDisorder)
	}
	if j.BlockSize == 0 {
		j.BlockSize = DefaultBlockSize
	}
	if j.BlockSize < 2 {
		return errors.Errorf("block size %d", j.BlockSize)
	}
	return nil
}

// global holds the only writable shared state of a job: the halo staging
// region, the reduced moment array, and the block staging of the 3D
// accumulator. Writes are serialized by the barrier and mutex.
type global[T ham.Scalar] struct {
	ghosts  []T
	bar     *barrier
	mu      sync.Mutex
	moments []T
	block   []T
}

// worker is the per-thread state: a subdomain view, a Hamiltonian
// realization, and a private RNG.
type worker[T ham.Scalar] struct {
	lat         *lattice.Local
	h           *ham.Ham[T]
	g           *global[T]
	job         *Job[T]
	complexMode bool
	blockSize   int
}

func (w *worker[T]) master() bool    { return w.lat.ID == 0 }
func (w *worker[T]) dirs() [][]int   { return w.job.Dirs }
func (w *worker[T]) nMoments() []int { return w.job.NMoments }
func (w *worker[T]) nRandom() int    { return w.job.NRandom }
func (w *worker[T]) nDisorder() int  { return w.job.NDisorder }

// run forks one worker per subdomain for the lifetime of the quantity and
// returns the reduced global moment array.
func (j *Job[T]) run(size int, fn func(w *worker[T]) error) ([]T, error) {
	if err := j.check(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	threads := j.Lat.Threads()
	g := &global[T]{
		ghosts:  make([]T, j.Lat.BorderSize()),
		bar:     newBarrier(threads),
		moments: make([]T, size),
		block:   make([]T, j.BlockSize*j.BlockSize),
	}

	eg := errgroup.Group{}
	for id := 0; id < threads; id++ {
		eg.Go(func() error {
			loc, err := lattice.NewLocal(j.Lat, id)
			if err != nil {
				return errors.Wrap(err, "")
			}
			rng := rand.New(rand.NewPCG(j.Seed, uint64(id)))
			h, err := ham.New(j.Desc, loc, rng)
			if err != nil {
				return errors.Wrap(err, "")
			}
			w := &worker[T]{lat: loc, h: h, g: g, job: j, complexMode: j.Desc.Complex, blockSize: j.BlockSize}
			return fn(w)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return g.moments, nil
}

// chebIter advances a recursion vector holding T_i to T_{i+1}: a plain H
// application out of T_0, the three-term step afterwards.
func chebIter[T ham.Scalar](v *Vector[T], i int) {
	if i == 0 {
		v.Multiply(0)
	} else {
		v.Multiply(1)
	}
}

// welford folds a sample into a running mean with the stable recurrence
// μ ← μ + (x−μ)/(k+1).
func welford[T ham.Scalar](mu []T, idx int, x T, k int) {
	mu[idx] += (x - mu[idx]) / T(complex(float64(k+1), 0))
}
