package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// Defaults applied by NewEngine.
const (
	DefaultMaxRetries       = 3
	DefaultSyncSchedule     = "@every 30s"
	DefaultSnapshotSchedule = "@every 5s"
	DefaultCallTimeout      = 15 * time.Second
	DefaultConnectivityPoll = time.Second
	DefaultDegradedAfter    = 3
)

// StatusObserver is notified with the current status after every change.
// OnStatus must not block.
type StatusObserver interface {
	OnStatus(SyncStatus)
}

// StatusObserverFunc adapts a function to StatusObserver.
type StatusObserverFunc func(SyncStatus)

func (f StatusObserverFunc) OnStatus(s SyncStatus) { f(s) }

// Engine owns the mutation queue, local mirror and conflict register of one
// client, persists them, and drains the queue into a Remote.
type Engine struct {
	storage   Storage
	remote    Remote
	oracle    Oracle
	clock     Clock
	logger    *slog.Logger
	schemas   Schemas
	queue     *Queue
	mirror    *Mirror
	conflicts *ConflictRegister
	persist   *persister

	maxRetries       int
	interItemDelay   time.Duration
	callTimeout      time.Duration
	retryBackoff     time.Duration
	maxBackoff       time.Duration
	syncSchedule     string
	snapshotSchedule string
	connectivityPoll time.Duration
	degradedAfter    int

	mu         sync.Mutex
	metrics    SyncMetrics
	state      SyncState
	lastSyncAt *time.Time
	closed     bool

	runs     singleflight.Group
	inflight sync.WaitGroup

	// life is cancelled by Close; runs and the snapshot writer stop with it.
	life        context.Context
	stopLife    context.CancelFunc
	persistDone chan struct{}

	obsMu     sync.RWMutex
	observers []StatusObserver

	lifeMu  sync.Mutex
	started bool
	cancel  context.CancelFunc
	cron    *cron.Cron
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithSchemas registers collection schemas, replacing built-ins of the same name.
func WithSchemas(list ...Schema) Option {
	return func(e *Engine) {
		for _, sc := range list {
			e.schemas[sc.Collection] = sc
		}
	}
}

// WithMaxRetries sets how many transient failures exhaust an item.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithInterItemDelay spaces consecutive remote calls within a run.
func WithInterItemDelay(d time.Duration) Option {
	return func(e *Engine) { e.interItemDelay = d }
}

// WithCallTimeout bounds each remote call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithRetryBackoff delays the next attempt of a failed item by
// base*2^(retries-1), capped at max. A zero base retries on the next run.
func WithRetryBackoff(base, max time.Duration) Option {
	return func(e *Engine) {
		e.retryBackoff = base
		e.maxBackoff = max
	}
}

// WithSyncSchedule sets the cron spec of the periodic run.
func WithSyncSchedule(spec string) Option {
	return func(e *Engine) {
		if spec != "" {
			e.syncSchedule = spec
		}
	}
}

// WithSnapshotSchedule sets the cron spec of the periodic snapshot.
func WithSnapshotSchedule(spec string) Option {
	return func(e *Engine) {
		if spec != "" {
			e.snapshotSchedule = spec
		}
	}
}

// WithConnectivityPoll sets how often the oracle is polled for a transition to online.
func WithConnectivityPoll(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.connectivityPoll = d
		}
	}
}

// WithDegradedAfter sets how many consecutive snapshot failures flag durability as degraded.
func WithDegradedAfter(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.degradedAfter = n
		}
	}
}

// NewEngine creates an engine and loads its persisted state from storage.
// A nil remote runs the engine offline-only; a nil oracle always allows syncing.
// The engine takes ownership of storage and closes it in Close.
func NewEngine(storage Storage, remote Remote, oracle Oracle, opts ...Option) (*Engine, error) {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if oracle == nil {
		oracle = NewStaticOracle(true, true)
	}

	e := &Engine{
		storage:          storage,
		remote:           remote,
		oracle:           oracle,
		clock:            systemClock{},
		logger:           slog.Default(),
		schemas:          NewSchemas(DefaultSchemas()...),
		queue:            NewQueue(),
		mirror:           NewMirror(),
		conflicts:        NewConflictRegister(),
		maxRetries:       DefaultMaxRetries,
		callTimeout:      DefaultCallTimeout,
		syncSchedule:     DefaultSyncSchedule,
		snapshotSchedule: DefaultSnapshotSchedule,
		connectivityPoll: DefaultConnectivityPoll,
		degradedAfter:    DefaultDegradedAfter,
		state:            StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "outbox")
	e.persist = newPersister(storage, e.collect, e.degradedAfter, e.logger)

	if err := e.load(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e.queue.OnChange(e.persist.Schedule)
	e.mirror.OnChange(e.persist.Schedule)
	e.conflicts.OnChange(e.persist.Schedule)

	e.life, e.stopLife = context.WithCancel(context.Background())
	e.persistDone = make(chan struct{})
	go func() {
		defer close(e.persistDone)
		e.persist.run(e.life)
	}()

	return e, nil
}

func (e *Engine) load() error {
	var items []QueueItem
	if _, err := loadBlob(e.storage, KeyQueue, &items); err != nil {
		return err
	}
	var entries []MirrorEntry
	if _, err := loadBlob(e.storage, KeyData, &entries); err != nil {
		return err
	}
	var records []ConflictRecord
	if _, err := loadBlob(e.storage, KeyConflicts, &records); err != nil {
		return err
	}
	var status statusSnapshot
	if _, err := loadBlob(e.storage, KeyMetrics, &status); err != nil {
		return err
	}

	e.queue.restore(items)
	e.mirror.restore(entries)
	e.conflicts.restore(records)

	e.metrics = status.Metrics
	e.lastSyncAt = status.LastSyncAt
	e.state = status.State
	if e.state == "" || e.state == StateSyncing {
		e.state = StateIdle
	}

	if len(items) > 0 || len(records) > 0 {
		e.logger.Info("restored state", "queued", len(items), "mirror", len(entries), "conflicts", len(records))
	}
	return nil
}

func (e *Engine) collect() (map[string][]byte, error) {
	blobs := make(map[string][]byte, 4)
	var err error
	if blobs[KeyQueue], err = json.Marshal(e.queue.Snapshot()); err != nil {
		return nil, err
	}
	if blobs[KeyData], err = json.Marshal(e.mirror.List("")); err != nil {
		return nil, err
	}
	if blobs[KeyConflicts], err = json.Marshal(e.conflicts.List()); err != nil {
		return nil, err
	}

	e.mu.Lock()
	status := statusSnapshot{Metrics: e.metrics, State: e.state, LastSyncAt: e.lastSyncAt}
	e.mu.Unlock()
	if blobs[KeyMetrics], err = json.Marshal(status); err != nil {
		return nil, err
	}
	return blobs, nil
}

// EnqueueOption adjusts a single enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority    int
	hasPriority bool
}

// WithPriority overrides the collection's default priority.
func WithPriority(p int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = p
		o.hasPriority = true
	}
}

func priorityFor(sc Schema, opts []EnqueueOption) int {
	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.hasPriority {
		return o.priority
	}
	return sc.Priority
}

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	return nil
}

func (e *Engine) enqueued(item QueueItem) {
	e.mu.Lock()
	e.metrics.TotalEnqueued++
	e.mu.Unlock()

	e.logger.Debug("enqueued", "item", item.ID, "type", item.Type, "collection", item.Collection,
		"target", item.TargetID, "priority", item.Priority)
	e.persist.Schedule()
	e.notify()
}

// EnqueueCreate records a new record locally and queues its INSERT.
// It returns the local id under which the record is visible until the
// remote assigns its own.
func (e *Engine) EnqueueCreate(collection string, payload Payload, opts ...EnqueueOption) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	sc, norm, err := e.schemas.prepare(collection, payload, false)
	if err != nil {
		return "", err
	}

	now := e.clock.Now()
	localID := "local_" + ulid.Make().String()
	e.mirror.PutOffline(collection, localID, norm, now)
	item := e.queue.Enqueue(QueueItem{
		Type:       OpInsert,
		Collection: collection,
		Payload:    norm,
		LocalID:    localID,
		Priority:   priorityFor(sc, opts),
		EnqueuedAt: now,
	})
	e.enqueued(item)
	return localID, nil
}

// EnqueueUpdate applies partial to the mirror and queues its UPDATE.
// targetID may be a remote id or a local id returned by EnqueueCreate.
func (e *Engine) EnqueueUpdate(collection, targetID string, partial Payload, opts ...EnqueueOption) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	if targetID == "" {
		return "", ErrEmptyTarget
	}
	sc, norm, err := e.schemas.prepare(collection, partial, true)
	if err != nil {
		return "", err
	}

	now := e.clock.Now()
	e.mirror.ApplyUpdate(collection, targetID, norm, now)
	item := e.queue.Enqueue(QueueItem{
		Type:       OpUpdate,
		Collection: collection,
		Payload:    norm,
		TargetID:   targetID,
		LocalID:    targetID,
		Priority:   priorityFor(sc, opts),
		EnqueuedAt: now,
	})
	e.enqueued(item)
	return item.ID, nil
}

// EnqueueDelete flags the mirror entry as deleted and queues its DELETE.
func (e *Engine) EnqueueDelete(collection, targetID string, opts ...EnqueueOption) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	if targetID == "" {
		return "", ErrEmptyTarget
	}
	sc, err := e.schemas.Lookup(collection)
	if err != nil {
		return "", err
	}

	now := e.clock.Now()
	e.mirror.MarkPendingDelete(collection, targetID, now)
	item := e.queue.Enqueue(QueueItem{
		Type:       OpDelete,
		Collection: collection,
		TargetID:   targetID,
		LocalID:    targetID,
		Priority:   priorityFor(sc, opts),
		EnqueuedAt: now,
	})
	e.enqueued(item)
	return item.ID, nil
}

// QueueSnapshot returns copies of all queued items in enqueue order.
func (e *Engine) QueueSnapshot() []QueueItem {
	return e.queue.Snapshot()
}

// SyncStatus returns the current summary.
func (e *Engine) SyncStatus() SyncStatus {
	counts := e.queue.Counts()

	e.mu.Lock()
	status := SyncStatus{
		State:   e.state,
		Metrics: e.metrics,
	}
	if e.lastSyncAt != nil {
		t := *e.lastSyncAt
		status.LastSyncAt = &t
	}
	e.mu.Unlock()

	status.Pending = counts[StatusPending]
	status.Syncing = counts[StatusSyncing]
	status.Failed = counts[StatusFailed]
	status.Conflicts = counts[StatusConflict]
	status.Stalled = e.queue.Stalled()
	status.DurabilityDegraded = e.persist.Degraded()
	return status
}

// Conflicts returns the open conflicts, oldest first.
func (e *Engine) Conflicts() []ConflictRecord {
	return e.conflicts.List()
}

// ResolveConflict applies a decision to a conflict and drops its record.
func (e *Engine) ResolveConflict(conflictID string, d Decision) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	rec, err := e.conflicts.Get(conflictID)
	if err != nil {
		return err
	}
	item, err := e.queue.Get(rec.ItemID)
	if err != nil {
		// The record outlived its item; nothing left to decide.
		_ = e.conflicts.Remove(conflictID)
		return err
	}

	switch d.Action {
	case ResolveRetry:
		err = e.queue.Requeue(item.ID, nil)
	case ResolveSkip:
		err = e.queue.Remove(item.ID)
	case ResolveForce:
		err = e.force(item, d.Payload)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, d.Action)
	}
	if err != nil {
		return err
	}

	if err := e.conflicts.Remove(conflictID); err != nil {
		return err
	}

	e.mu.Lock()
	e.metrics.ConflictsResolved++
	if e.state == StateConflict && e.conflicts.Len() == 0 {
		e.state = StateIdle
	}
	e.mu.Unlock()

	e.logger.Info("conflict resolved", "conflict", conflictID, "item", item.ID, "action", d.Action)
	e.persist.Schedule()
	e.notify()
	return nil
}

func (e *Engine) force(item QueueItem, payload Payload) error {
	if item.Type == OpDelete {
		return fmt.Errorf("%w: force does not apply to %s", ErrInvalidDecision, item.Type)
	}
	if payload == nil {
		return fmt.Errorf("%w: force requires a payload", ErrInvalidDecision)
	}
	_, norm, err := e.schemas.prepare(item.Collection, payload, item.Type == OpUpdate)
	if err != nil {
		return err
	}
	if err := e.queue.Requeue(item.ID, norm); err != nil {
		return err
	}

	id := item.TargetID
	if item.Type == OpInsert {
		id = item.LocalID
	}
	e.mirror.ApplyUpdate(item.Collection, id, norm, e.clock.Now())
	return nil
}

// RetryFailed requeues an item whose retries were exhausted.
func (e *Engine) RetryFailed(itemID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	item, err := e.queue.Get(itemID)
	if err != nil {
		return err
	}
	if item.Status != StatusFailed {
		return fmt.Errorf("%w: item %s is %s", ErrInvalidTransition, itemID, item.Status)
	}
	if err := e.queue.Requeue(itemID, nil); err != nil {
		return err
	}
	e.logger.Info("requeued failed item", "item", itemID)
	e.notify()
	return nil
}

// RetryAllFailed requeues every failed item and returns how many moved.
func (e *Engine) RetryAllFailed() int {
	n := 0
	for _, item := range e.queue.Snapshot() {
		if item.Status != StatusFailed {
			continue
		}
		if err := e.RetryFailed(item.ID); err == nil {
			n++
		}
	}
	return n
}

// MirrorEntry returns the local copy of a record.
func (e *Engine) MirrorEntry(collection, id string) (MirrorEntry, bool) {
	return e.mirror.Get(collection, id)
}

// MirrorEntries returns the local records of a collection; "" lists all.
func (e *Engine) MirrorEntries(collection string) []MirrorEntry {
	return e.mirror.List(collection)
}

// RefreshCollection replaces the confirmed mirror entries of a collection
// with the remote's current records. Entries with queued writes are kept.
func (e *Engine) RefreshCollection(ctx context.Context, collection string) (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	if e.remote == nil {
		return 0, ErrOffline
	}
	fetcher, ok := e.remote.(Fetcher)
	if !ok {
		return 0, fmt.Errorf("refresh %s: %w", collection, errors.ErrUnsupported)
	}
	if _, err := e.schemas.Lookup(collection); err != nil {
		return 0, err
	}
	if reason := e.ineligible(); reason != "" {
		return 0, fmt.Errorf("refresh %s: %w (%s)", collection, ErrOffline, reason)
	}

	records, err := fetcher.List(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("refresh %s: %w", collection, err)
	}

	queued := make(map[string]bool)
	for _, item := range e.queue.Snapshot() {
		if item.Collection == collection {
			queued[item.TargetID] = true
			queued[item.LocalID] = true
		}
	}
	e.mirror.Replace(collection, records, func(id string) bool { return queued[id] }, e.clock.Now())

	e.logger.Info("collection refreshed", "collection", collection, "records", len(records))
	return len(records), nil
}

// ResetMetrics zeroes the cumulative counters.
func (e *Engine) ResetMetrics() {
	e.mu.Lock()
	e.metrics = SyncMetrics{}
	e.mu.Unlock()
	e.persist.Schedule()
	e.notify()
}

// Flush writes a snapshot synchronously.
func (e *Engine) Flush() error {
	return e.persist.Flush()
}

// Subscribe registers an observer for status changes.
func (e *Engine) Subscribe(o StatusObserver) {
	e.obsMu.Lock()
	e.observers = append(e.observers, o)
	e.obsMu.Unlock()
}

func (e *Engine) notify() {
	e.obsMu.RLock()
	observers := append([]StatusObserver(nil), e.observers...)
	e.obsMu.RUnlock()
	if len(observers) == 0 {
		return
	}
	status := e.SyncStatus()
	for _, o := range observers {
		o.OnStatus(status)
	}
}

// ForceSyncNow runs the processor outside the schedule. A run already in
// flight is joined rather than duplicated.
func (e *Engine) ForceSyncNow(ctx context.Context) (*RunResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.remote == nil {
		return nil, ErrOffline
	}
	return e.Run(ctx), nil
}

// Run executes one processor run, coalescing with any run in flight.
// Close cancels the run and waits for it.
func (e *Engine) Run(ctx context.Context) *RunResult {
	e.mu.Lock()
	if e.closed {
		state := e.state
		e.mu.Unlock()
		return &RunResult{Skipped: "engine closed", State: state}
	}
	e.inflight.Add(1)
	e.mu.Unlock()
	defer e.inflight.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.life, cancel)
	defer stop()

	v, _, _ := e.runs.Do("run", func() (any, error) {
		return e.run(ctx), nil
	})
	return v.(*RunResult)
}

// ineligible returns why a run may not start, or "" when it may.
func (e *Engine) ineligible() string {
	switch {
	case e.remote == nil:
		return "offline mode"
	case !e.oracle.IsOnline():
		return "offline"
	case !e.oracle.IsSessionValid():
		return "no valid session"
	}
	return ""
}

// Start launches the periodic run, the periodic snapshot and the
// connectivity watcher.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	logger := cronLogger{e.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(e.syncSchedule, func() {
		if e.ineligible() == "" {
			e.Run(ctx)
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("sync schedule %q: %w", e.syncSchedule, err)
	}
	if _, err := c.AddFunc(e.snapshotSchedule, e.persist.Schedule); err != nil {
		cancel()
		return fmt.Errorf("snapshot schedule %q: %w", e.snapshotSchedule, err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watchConnectivity(ctx)
	}()
	c.Start()

	e.cron = c
	e.cancel = cancel
	e.started = true
	e.logger.Info("engine started", "sync_schedule", e.syncSchedule, "snapshot_schedule", e.snapshotSchedule)
	return nil
}

// watchConnectivity runs the processor when the oracle turns eligible.
func (e *Engine) watchConnectivity(ctx context.Context) {
	ticker := time.NewTicker(e.connectivityPoll)
	defer ticker.Stop()

	was := e.ineligible() == ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := e.ineligible() == ""
			if now && !was {
				e.logger.Info("connectivity restored, starting sync")
				e.Run(ctx)
			}
			was = now
		}
	}
}

// Close cancels any run in flight and waits for it, stops background work,
// writes a final snapshot and closes storage.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.stopLife()
	e.inflight.Wait()

	e.lifeMu.Lock()
	if e.started {
		e.cancel()
		<-e.cron.Stop().Done()
		e.wg.Wait()
		e.started = false
	}
	e.lifeMu.Unlock()
	<-e.persistDone

	flushErr := e.persist.Flush()
	if err := e.storage.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("final snapshot: %w", flushErr)
	}
	return nil
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
