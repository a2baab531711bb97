package trading

import (
	"papertrader/src/logger"
	"papertrader/src/portfolio"
)

// Publisher receives state snapshots. Implementations must not block the caller.
type Publisher interface {
	Publish(portfolio.Snapshot)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(portfolio.Snapshot)

func (f PublisherFunc) Publish(s portfolio.Snapshot) { f(s) }

// Fanout forwards each snapshot to every publisher. A panicking publisher is logged and
// skipped; the others still receive the snapshot.
func Fanout(log *logger.Logger, pubs ...Publisher) Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &fanout{pubs: pubs, log: log.Component("publisher")}
}

type fanout struct {
	pubs []Publisher
	log  *logger.Logger
}

func (f *fanout) Publish(s portfolio.Snapshot) {
	for _, p := range f.pubs {
		if p == nil {
			continue
		}
		f.publishOne(p, s)
	}
}

func (f *fanout) publishOne(p Publisher, s portfolio.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Errorf("publisher %T panicked: %v", p, r)
		}
	}()
	p.Publish(s)
}

type nopPublisher struct{}

func (nopPublisher) Publish(portfolio.Snapshot) {}
