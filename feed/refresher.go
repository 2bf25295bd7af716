package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robertmeta/tagfeed/model"
	"go.uber.org/zap"
)

// Snapshot is one published global feed result.
type Snapshot struct {
	Generation uint64       `json:"generation"`
	Posts      []model.Post `json:"posts"`
	Err        error        `json:"-"`
	At         time.Time    `json:"at"`
}

// Refresher refetches the global feed on every focus event. A new focus
// event cancels the call started by the previous one, and results of a
// superseded call are never published.
type Refresher struct {
	assembler *Assembler
	since     *time.Time
	logger    *zap.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	latest *Snapshot
	subs   []func(Snapshot)

	// pubMu orders deliveries so subscribers never see an older
	// generation after a newer one.
	pubMu sync.Mutex
	wg    sync.WaitGroup
}

// NewRefresher creates a Refresher. since is passed to Assembler.Global.
func NewRefresher(a *Assembler, since *time.Time, logger *zap.Logger) *Refresher {
	return &Refresher{assembler: a, since: since, logger: logger}
}

// Subscribe registers fn to receive every published snapshot. fn runs on
// the refresher's goroutine and must not block for long.
func (r *Refresher) Subscribe(fn func(Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// Latest returns the most recently published snapshot.
func (r *Refresher) Latest() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return Snapshot{}, false
	}
	return *r.latest, true
}

// Focus starts a refetch and returns its generation. Any refetch still in
// flight is cancelled.
func (r *Refresher) Focus(ctx context.Context) uint64 {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.gen++
	gen := r.gen
	callCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		posts, err := r.assembler.Global(callCtx, r.since)
		if errors.Is(err, context.Canceled) {
			r.logger.Debug("global feed refetch superseded", zap.Uint64("generation", gen))
			return
		}
		r.publish(Snapshot{Generation: gen, Posts: posts, Err: err, At: time.Now()})
	}()
	return gen
}

func (r *Refresher) publish(snap Snapshot) {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	if snap.Generation != r.gen {
		r.mu.Unlock()
		r.logger.Debug("discarding stale global feed", zap.Uint64("generation", snap.Generation))
		return
	}
	if snap.Err == nil {
		r.latest = &snap
	}
	subs := append([]func(Snapshot){}, r.subs...)
	r.mu.Unlock()

	if snap.Err != nil {
		r.logger.Warn("global feed refetch failed", zap.Error(snap.Err))
	}
	for _, fn := range subs {
		fn(snap)
	}
}

// Run calls Focus once immediately and then for every value received on
// events, until ctx is done or events is closed. It waits for in-flight
// refetches before returning.
func (r *Refresher) Run(ctx context.Context, events <-chan struct{}) {
	defer r.Wait()
	r.Focus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			r.Focus(ctx)
		}
	}
}

// Wait blocks until every started refetch has finished.
func (r *Refresher) Wait() {
	r.wg.Wait()
}
