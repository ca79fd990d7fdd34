package arbiter

import (
	"math/rand/v2"
	"sync"
)

// Rand is the source of every probability draw the engine makes.
type Rand interface {
	// Float64 returns a uniform draw in [0, 1).
	Float64() float64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a seeded source safe for concurrent use. The same seed
// yields the same sequence of draws.
func NewRand(seed uint64) Rand {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// pickWeighted returns the index chosen by draw over weights, or -1 when
// every weight is zero.
func pickWeighted(weights []float64, draw float64) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return -1
	}
	target := draw * total
	acc := 0.0
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		acc += w
		last = i
		if target < acc {
			return i
		}
	}
	return last
}
