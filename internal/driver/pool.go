package driver

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Pool polls one queue and runs up to size drainers concurrently.
type Pool struct {
	queue     QueuePass
	name      string
	sem       chan struct{}
	pollEvery time.Duration
}

func NewPool(q QueuePass, name string, size int, pollEvery time.Duration) *Pool {
	return &Pool{queue: q, name: name, sem: make(chan struct{}, size), pollEvery: pollEvery}
}

func (p *Pool) Run(ctx context.Context) {
	t := time.NewTicker(p.pollEvery)
	defer t.Stop()
	log.Info().Str("queue", p.name).Int("workers", cap(p.sem)).Dur("poll", p.pollEvery).Msg("queue worker started")
	for {
		select {
		case <-ctx.Done():
			// wait for drainers
			for i := 0; i < cap(p.sem); i++ {
				p.sem <- struct{}{}
			}
			return
		case <-t.C:
			p.fill(ctx)
		}
	}
}

// fill starts a drainer in every free slot.
func (p *Pool) fill(ctx context.Context) {
	for {
		select {
		case p.sem <- struct{}{}:
		default:
			return
		}
		go func() {
			defer func() { <-p.sem }()
			p.drain(ctx)
		}()
	}
}

func (p *Pool) drain(ctx context.Context) {
	for ctx.Err() == nil {
		ok, err := p.queue.ProcessNextQueuedTask(ctx, p.name)
		if err != nil {
			log.Error().Err(err).Str("queue", p.name).Msg("queued task failed")
			return
		}
		if !ok {
			return
		}
	}
}
