package aaa

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	logs "github.com/danmuck/smfaaa/internal/logging"
	"github.com/danmuck/smfaaa/internal/observability"
	"github.com/danmuck/smfaaa/internal/protocol"
	"github.com/danmuck/smfaaa/internal/protocol/schema"
)

type CompletionKind uint8

const (
	CompletionAnswer CompletionKind = iota + 1
	CompletionError
	CompletionCleanup
)

func (k CompletionKind) String() string {
	switch k {
	case CompletionAnswer:
		return "answer"
	case CompletionError:
		return "error"
	case CompletionCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// Completion is one protocol-stack callback for an exchange.
type Completion struct {
	Kind       CompletionKind
	ExchangeID string
	Answer     *protocol.Message
	Err        error
}

type CorrelatorConfig struct {
	Workers    int
	QueueDepth int
	// RecordTTL bounds how long a record may wait for any completion. Zero
	// disables the sweeper.
	RecordTTL     time.Duration
	SweepInterval time.Duration
}

func DefaultCorrelatorConfig() CorrelatorConfig {
	return CorrelatorConfig{
		Workers:       4,
		QueueDepth:    256,
		RecordTTL:     30 * time.Second,
		SweepInterval: 5 * time.Second,
	}
}

// Correlator turns completions into session outcomes. Completions for one
// exchange key always land on the same worker, so an answer is processed
// before its cleanup.
type Correlator struct {
	cfg   CorrelatorConfig
	store *Store
	dir   SessionDirectory
	sink  EventSink
	now   func() time.Time

	queues   []chan Completion
	stopOnce sync.Once
	stopped  chan struct{}
}

func NewCorrelator(store *Store, dir SessionDirectory, sink EventSink, cfg CorrelatorConfig) *Correlator {
	def := DefaultCorrelatorConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	c := &Correlator{
		cfg:     cfg,
		store:   store,
		dir:     dir,
		sink:    sink,
		now:     time.Now,
		queues:  make([]chan Completion, cfg.Workers),
		stopped: make(chan struct{}),
	}
	for i := range c.queues {
		c.queues[i] = make(chan Completion, cfg.QueueDepth)
	}
	return c
}

func (c *Correlator) OnAnswer(exchangeID string, answer *protocol.Message) {
	c.Submit(Completion{Kind: CompletionAnswer, ExchangeID: exchangeID, Answer: answer})
}

func (c *Correlator) OnError(exchangeID string, err error) {
	c.Submit(Completion{Kind: CompletionError, ExchangeID: exchangeID, Err: err})
}

func (c *Correlator) OnCleanup(exchangeID string) {
	c.Submit(Completion{Kind: CompletionCleanup, ExchangeID: exchangeID})
}

// Submit queues comp on its key's worker. It blocks while that queue is full
// and drops the completion once the correlator is stopping.
func (c *Correlator) Submit(comp Completion) {
	observability.RecordCompletion(comp.Kind.String())
	q := c.queues[c.shard(comp.ExchangeID)]
	select {
	case <-c.stopped:
		c.drop(comp)
		return
	default:
	}
	select {
	case q <- comp:
	case <-c.stopped:
		c.drop(comp)
	}
}

func (c *Correlator) drop(comp Completion) {
	observability.RecordDroppedCompletion("stopped")
	logs.Warnf("aaa.Correlator.Submit dropped kind=%s exchange=%q err=%v", comp.Kind, comp.ExchangeID, ErrCorrelatorStopped)
}

func (c *Correlator) halt() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

func (c *Correlator) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(c.queues)))
}

// Run drives the workers and the sweeper until ctx ends. Submit stops
// blocking as soon as ctx ends, before the workers have exited.
func (c *Correlator) Run(ctx context.Context) error {
	defer c.halt()
	stop := context.AfterFunc(ctx, c.halt)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range c.queues {
		g.Go(func() error {
			logs.Debugf("aaa.Correlator.worker start index=%d", i)
			for {
				select {
				case <-gctx.Done():
					return nil
				case comp := <-q:
					c.Process(comp)
				}
			}
		})
	}
	if c.cfg.RecordTTL > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(c.cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					c.Sweep()
				}
			}
		})
	}
	return g.Wait()
}

// Process handles one completion synchronously on the caller's goroutine.
func (c *Correlator) Process(comp Completion) {
	switch comp.Kind {
	case CompletionAnswer:
		c.handleAnswer(comp.ExchangeID, comp.Answer)
	case CompletionError:
		c.handleError(comp.ExchangeID, comp.Err)
	case CompletionCleanup:
		c.handleCleanup(comp.ExchangeID)
	default:
		logs.Errf("aaa.Correlator.Process unknown kind=%d exchange=%q", comp.Kind, comp.ExchangeID)
	}
}

// Sweep routes records older than RecordTTL through the error path followed
// by cleanup.
func (c *Correlator) Sweep() int {
	if c.cfg.RecordTTL <= 0 {
		return 0
	}
	expired := c.store.Expired(c.now().Add(-c.cfg.RecordTTL))
	for _, rec := range expired {
		logs.Warnf("aaa.Correlator.Sweep expiring exchange=%q owner=%s peer=%q age=%s",
			rec.ExchangeID, rec.Owner, rec.PeerHost, c.now().Sub(rec.AllocatedAt))
		if rec.ExchangeID == "" {
			_ = c.store.Release(rec)
			continue
		}
		c.Submit(Completion{Kind: CompletionError, ExchangeID: rec.ExchangeID, Err: ErrRecordExpired})
		c.Submit(Completion{Kind: CompletionCleanup, ExchangeID: rec.ExchangeID})
	}
	if len(expired) > 0 {
		observability.RecordStoreExpired(len(expired))
	}
	return len(expired)
}

// claim fetches the record for a completion and resolves its owner. It
// returns false when processing should stop; records of departed owners are
// released here.
func (c *Correlator) claim(kind CompletionKind, key string) (Record, bool) {
	rec, err := c.store.Retrieve(key)
	if err != nil {
		logs.Debugf("aaa.Correlator.%s unmatched exchange=%q err=%v", kind, key, err)
		observability.RecordDroppedCompletion("not_found")
		return Record{}, false
	}
	if rec.Completed {
		logs.Debugf("aaa.Correlator.%s duplicate exchange=%q owner=%s", kind, key, rec.Owner)
		observability.RecordDroppedCompletion("duplicate")
		return Record{}, false
	}
	if _, ok := c.dir.SessionContext(rec.Owner); !ok {
		c.dropOwnerGone(kind, rec)
		return Record{}, false
	}
	return rec, true
}

func (c *Correlator) dropOwnerGone(kind CompletionKind, rec Record) {
	logs.Debugf("aaa.Correlator.%s owner gone exchange=%q owner=%s", kind, rec.ExchangeID, rec.Owner)
	observability.RecordDroppedCompletion("owner_gone")
	_ = c.store.Release(rec)
}

func (c *Correlator) handleAnswer(key string, ans *protocol.Message) {
	rec, ok := c.claim(CompletionAnswer, key)
	if !ok {
		return
	}

	outcome, err := outcomeOf(ans)
	if err != nil {
		logs.Errf("aaa.Correlator.answer exchange=%q owner=%s peer=%q err=%v", key, rec.Owner, rec.PeerHost, err)
		observability.RecordDroppedCompletion("missing_outcome")
		_ = c.store.Release(rec)
		return
	}
	success := outcome == schema.OutcomeSuccess
	logs.Debugf("aaa.Correlator.answer exchange=%q owner=%s outcome=%d", key, rec.Owner, outcome)
	c.complete(CompletionAnswer, rec, success)
}

func (c *Correlator) handleError(key string, cause error) {
	rec, ok := c.claim(CompletionError, key)
	if !ok {
		return
	}
	logs.Warnf("aaa.Correlator.error exchange=%q owner=%s peer=%q err=%v", key, rec.Owner, rec.PeerHost, cause)
	c.complete(CompletionError, rec, false)
}

// complete sets the owner's flag, emits the outcome event and re-stores the
// record as completed so only the exchange cleanup frees it.
func (c *Correlator) complete(kind CompletionKind, rec Record, success bool) {
	if !c.dir.SetAuthSucceeded(rec.Owner, success) {
		c.dropOwnerGone(kind, rec)
		return
	}
	c.sink.Emit(Event{Kind: EventAAAOutcome, Session: rec.Owner})
	observability.RecordOutcome(success)

	rec.Completed = true
	if err := c.store.Store(rec.ExchangeID, rec); err != nil {
		logs.Errf("aaa.Correlator.%s re-store exchange=%q err=%v", kind, rec.ExchangeID, err)
	}
}

func (c *Correlator) handleCleanup(key string) {
	rec, err := c.store.Retrieve(key)
	if err != nil {
		return
	}
	if err := c.store.Release(rec); err != nil {
		logs.Debugf("aaa.Correlator.cleanup exchange=%q err=%v", key, err)
	}
}

func outcomeOf(ans *protocol.Message) (uint32, error) {
	if ans == nil {
		return 0, ErrMissingOutcome
	}
	a, ok := ans.Find(schema.AVPResult, schema.VendorID)
	if !ok {
		return 0, ErrMissingOutcome
	}
	v, err := a.Uint32()
	if err != nil {
		return 0, ErrMissingOutcome
	}
	return v, nil
}
