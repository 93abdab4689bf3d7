package ratelimit

import (
	"fmt"

	"github.com/sergeybar/ratesentry/internal/model"
)

var registry = map[model.Algorithm]Strategy{}

// register is called from each strategy's init(). A duplicate registration
// is a programming error, not a runtime condition, so it panics.
func register(s Strategy) {
	alg := s.Algorithm()
	if _, exists := registry[alg]; exists {
		panic(fmt.Sprintf("ratelimit: duplicate strategy registered for %s", alg))
	}
	registry[alg] = s
}

// StrategyFor returns the registered Strategy for alg, or false if none
// exists. Completeness against model.Algorithm is asserted by MustBeComplete
// when NewEngine runs, so in practice this only fails for corrupted data.
func StrategyFor(alg model.Algorithm) (Strategy, bool) {
	s, ok := registry[alg]
	return s, ok
}

// allAlgorithms lists every model.Algorithm value. Kept here, next to the
// registry, so the completeness check and the enum can't silently drift.
var allAlgorithms = []model.Algorithm{
	model.AlgorithmTokenBucket,
	model.AlgorithmFixedWindow,
	model.AlgorithmSlidingLog,
}

// MustBeComplete panics if any Algorithm enum value lacks a registered
// Strategy. Called by NewEngine rather than from this package's own init():
// Go does not guarantee init() order across a package's files, so checking
// completeness here would race the individual strategies' init()
// registrations. By the time NewEngine runs (composition root, after every
// imported package has finished initializing), every strategy's init() has
// already registered.
func MustBeComplete() {
	for _, alg := range allAlgorithms {
		if _, ok := registry[alg]; !ok {
			panic(fmt.Sprintf("ratelimit: no strategy registered for algorithm %s", alg))
		}
	}
}
