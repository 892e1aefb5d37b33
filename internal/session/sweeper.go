package session

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically transitions overdue Active sessions to Completed. It
// is stateless between runs; "due" is re-derived from stored data every tick,
// so missed or overlapping runs are harmless.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	onSwept  func(count int)
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper but does not start it. interval defaults to
// one minute; onSwept may be nil.
func NewSweeper(svc *Service, interval time.Duration, onSwept func(count int)) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		svc:      svc,
		interval: interval,
		onSwept:  onSwept,
		done:     make(chan struct{}),
	}
}

// Start begins the background loop. It sweeps immediately, then repeats on
// the configured interval until ctx is cancelled or Stop is called.
func (w *Sweeper) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
	log.Printf("expiry sweeper started (interval=%s)", w.interval)
}

// Stop signals the sweeper to exit and waits for it to finish.
func (w *Sweeper) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *Sweeper) loop(ctx context.Context) {
	defer close(w.done)

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	count, err := w.svc.ExpireDueSessions(ctx, w.svc.now())
	if err != nil {
		log.Printf("sweep failed: %v", err)
		return
	}
	if count > 0 {
		log.Printf("swept %d expired session(s)", count)
		if w.onSwept != nil {
			w.onSwept(count)
		}
	}
}
