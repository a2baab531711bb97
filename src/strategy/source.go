package strategy

import (
	"fmt"
	"math/rand"
	"sort"

	"papertrader/src/logger"
	"papertrader/src/models"
)

// Source turns a pair's history and indicators into a signal. Implementations must be
// safe to call from several pair workers at once.
type Source interface {
	Name() string
	GenerateSignal(pair string, history []models.Candle, ind models.Indicators) models.Signal
}

// Safe wraps a source so a panic becomes HOLD with zero confidence and
// every result is normalized.
func Safe(src Source, log *logger.Logger) Source {
	if log == nil {
		log = logger.Nop()
	}
	return &safeSource{inner: src, log: log.Component("strategy")}
}

type safeSource struct {
	inner Source
	log   *logger.Logger
}

func (s *safeSource) Name() string { return s.inner.Name() }

func (s *safeSource) GenerateSignal(pair string, history []models.Candle, ind models.Indicators) (sig models.Signal) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("%s signal source %s panicked: %v", pair, s.inner.Name(), r)
			sig = models.Hold(s.inner.Name())
		}
	}()
	sig = s.inner.GenerateSignal(pair, history, ind).Normalize()
	if sig.Source == "" {
		sig.Source = s.inner.Name()
	}
	return sig
}

// Factory builds a source. rng is only used by sources that need randomness.
type Factory func(rng *rand.Rand) Source

var registry = map[string]Factory{
	"rsi":      func(*rand.Rand) Source { return NewRSIReversal() },
	"ensemble": func(rng *rand.Rand) Source { return NewEnsemble(rng) },
	"pattern":  func(*rand.Rand) Source { return NewPatternVolume() },
	"emacross": func(*rand.Rand) Source { return NewEMACross() },
}

// New returns the named source seeded with seed.
func New(name string, seed int64) (Source, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown signal source %q (have %v)", name, Names())
	}
	return f(rand.New(rand.NewSource(seed))), nil
}

// Names lists the registered sources.
func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
