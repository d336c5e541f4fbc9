package outbox

import (
	"context"
	"fmt"
	"time"
)

// run drains the ready batch sequentially. Remote failures are recorded on
// the items and never returned.
func (e *Engine) run(ctx context.Context) *RunResult {
	res := &RunResult{}
	if reason := e.ineligible(); reason != "" {
		e.mu.Lock()
		res.State = e.state
		e.mu.Unlock()
		res.Skipped = reason
		e.logger.Debug("sync skipped", "reason", reason)
		return res
	}

	e.setState(StateSyncing)
	res.Started = true

	batch := e.queue.ReadyBatch(e.clock.Now())
	e.logger.Info("sync run started", "batch", len(batch))

	for i, queued := range batch {
		if ctx.Err() != nil {
			res.Halted = true
			break
		}
		if i > 0 && e.interItemDelay > 0 {
			if err := e.clock.Sleep(ctx, e.interItemDelay); err != nil {
				res.Halted = true
				break
			}
		}
		if reason := e.ineligible(); reason != "" {
			e.logger.Info("sync run halted", "reason", reason, "remaining", len(batch)-i)
			res.Halted = true
			break
		}

		// Earlier items in this run may have retargeted this one.
		item, err := e.queue.Get(queued.ID)
		if err != nil || item.Status != StatusPending {
			continue
		}
		if blocker, ok := e.queue.BlockedBy(item); ok {
			e.logger.Debug("item deferred", "item", item.ID, "waiting_on", blocker.ID, "blocker_status", blocker.Status)
			res.Deferred++
			continue
		}

		e.process(ctx, item, res)
	}

	state := StateSuccess
	switch {
	case res.Failed > 0:
		state = StateError
	case res.Conflicts > 0:
		state = StateConflict
	}
	res.State = state

	now := e.clock.Now()
	e.mu.Lock()
	e.metrics.SuccessfulSyncs += int64(res.Succeeded)
	e.metrics.FailedSyncs += int64(res.Failed)
	e.metrics.ConflictsDetected += int64(res.Conflicts)
	e.state = state
	e.lastSyncAt = &now
	e.mu.Unlock()

	e.logger.Info("sync run finished",
		"state", state,
		"attempted", res.Attempted,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"exhausted", res.Exhausted,
		"conflicts", res.Conflicts,
		"deferred", res.Deferred,
	)
	e.persist.Schedule()
	e.notify()
	return res
}

func (e *Engine) setState(s SyncState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.notify()
}

// process replays one item and records its outcome.
func (e *Engine) process(ctx context.Context, item QueueItem, res *RunResult) {
	if err := e.queue.MarkSyncing(item.ID); err != nil {
		e.logger.Warn("claim item", "item", item.ID, "error", err)
		return
	}
	res.Attempted++

	callCtx := WithIdempotencyKey(ctx, item.ID)
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.callTimeout)
		defer cancel()
	}

	rec, err := e.dispatch(callCtx, item)
	now := e.clock.Now()
	log := e.logger.With("item", item.ID, "type", item.Type, "collection", item.Collection)

	switch {
	case err == nil:
		e.succeeded(item, rec, now)
		res.Succeeded++
		log.Debug("item synced")

	case ctx.Err() != nil:
		// The run itself was cancelled or ran out of time; the per-call
		// timeout only expires callCtx.
		if relErr := e.queue.Release(item.ID); relErr != nil {
			log.Warn("release item", "error", relErr)
		}
		res.Halted = true

	case IsConflict(err):
		reason := err.Error()
		if markErr := e.queue.MarkConflict(item.ID, reason); markErr != nil {
			log.Warn("mark conflict", "error", markErr)
			return
		}
		rec := e.conflicts.Add(item, reason, now)
		res.Conflicts++
		log.Warn("write conflict", "conflict", rec.ID, "error", err)

	default:
		res.Failed++
		reason := err.Error()
		attempt := item.Retries + 1
		if attempt >= e.maxRetries {
			if markErr := e.queue.MarkFailed(item.ID, reason); markErr != nil {
				log.Warn("mark failed", "error", markErr)
				return
			}
			res.Exhausted++
			log.Error("item failed, retries exhausted", "retries", attempt, "error", err)
			return
		}
		if markErr := e.queue.MarkRetry(item.ID, reason, e.nextAttempt(attempt, now)); markErr != nil {
			log.Warn("mark retry", "error", markErr)
			return
		}
		log.Warn("item sync failed, will retry", "retries", attempt, "max_retries", e.maxRetries, "error", err)
	}
}

func (e *Engine) dispatch(ctx context.Context, item QueueItem) (*RemoteRecord, error) {
	switch item.Type {
	case OpInsert:
		rec, err := e.remote.Insert(ctx, item.Collection, item.Payload)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.ID == "" {
			return nil, fmt.Errorf("insert %s: remote returned no id", item.Collection)
		}
		return rec, nil
	case OpUpdate:
		return e.remote.Update(ctx, item.Collection, item.TargetID, item.Payload)
	case OpDelete:
		return nil, e.remote.Delete(ctx, item.Collection, item.TargetID)
	default:
		return nil, fmt.Errorf("unknown operation %q", item.Type)
	}
}

func (e *Engine) succeeded(item QueueItem, rec *RemoteRecord, now time.Time) {
	if err := e.queue.MarkSucceeded(item.ID); err != nil {
		e.logger.Warn("mark succeeded", "item", item.ID, "error", err)
	}

	var remoteData Payload
	if rec != nil {
		remoteData = rec.Data
	}

	switch item.Type {
	case OpInsert:
		if err := e.mirror.Reconcile(item.Collection, item.LocalID, rec.ID, remoteData, now); err != nil {
			e.logger.Debug("reconcile mirror", "item", item.ID, "error", err)
		}
		if n := e.queue.RewriteTarget(item.Collection, item.LocalID, rec.ID); n > 0 {
			e.logger.Debug("retargeted queued writes", "local_id", item.LocalID, "id", rec.ID, "items", n)
		}
	case OpUpdate:
		e.mirror.Confirm(item.Collection, item.TargetID, remoteData, now)
	case OpDelete:
		e.mirror.Remove(item.Collection, item.TargetID)
	}
}

// nextAttempt returns when an item that failed attempt times may run again.
func (e *Engine) nextAttempt(attempt int, now time.Time) time.Time {
	if e.retryBackoff <= 0 {
		return time.Time{}
	}
	d := e.retryBackoff << (attempt - 1)
	if e.maxBackoff > 0 && (d > e.maxBackoff || d <= 0) {
		d = e.maxBackoff
	}
	return now.Add(d)
}
