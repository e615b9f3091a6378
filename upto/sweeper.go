package upto

import (
	"context"
	"math/big"
	"time"

	"github.com/x402proto/facilitator/types"
)

// Settler submits a batch settlement for an Upto session's accumulated
// spend. core.Facilitator satisfies this interface.
type Settler interface {
	Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error)
}

// Config tunes the sweeper's ordered triggers.
type Config struct {
	TickInterval time.Duration

	// IdleTimeoutMs: a session with pending spend and no activity for this
	// long is settled (non-terminal — the session stays open and usable).
	IdleTimeoutMs int64

	// DeadlineBufferMs: a session with pending spend is settled and closed
	// once its permit deadline is within this many milliseconds.
	DeadlineBufferMs int64

	// CapThresholdNumerator / CapThresholdDenominator express the fraction
	// of cap (e.g. 9/10) that, once outstanding spend reaches it, triggers
	// a non-terminal settlement to free up headroom.
	CapThresholdNumerator   int64
	CapThresholdDenominator int64

	// LongIdleCloseMs: regardless of pending spend, a session idle this
	// long is closed and its entry deleted from the store.
	LongIdleCloseMs int64
}

// DefaultConfig mirrors spec.md §4.3's defaults: 30 second tick, 2 minute
// idle settle, 60 second deadline buffer, settle at 90% of cap, 30 minute
// long-idle close.
func DefaultConfig() Config {
	return Config{
		TickInterval:            30 * time.Second,
		IdleTimeoutMs:           2 * 60 * 1000,
		DeadlineBufferMs:        60 * 1000,
		CapThresholdNumerator:   9,
		CapThresholdDenominator: 10,
		LongIdleCloseMs:         30 * 60 * 1000,
	}
}

// MetricsRecorder receives sweeper observability events. Both methods
// are optional to implement meaningfully; NewSweeper accepts nil and
// falls back to a no-op recorder.
type MetricsRecorder interface {
	SetActiveSessions(count int)
	RecordSweeperSettle(trigger string, success bool)
}

type noopMetrics struct{}

func (noopMetrics) SetActiveSessions(int)                {}
func (noopMetrics) RecordSweeperSettle(string, bool) {}

// Sweeper periodically scans a Store and settles or closes sessions
// according to the ordered triggers in spec.md §4.3: idle_timeout,
// deadline_buffer, cap_threshold, then a pass that runs regardless of
// pending spend and closes sessions that are long idle, past their
// deadline, or fully settled (settling any remaining pending spend as
// auto_close). Long-idle sessions and sessions closed by a terminal
// settlement are deleted at once; other closed sessions on a later tick.
type Sweeper struct {
	store   *Store
	settler Settler
	cfg     Config
	nowMs   func() int64
	metrics MetricsRecorder
}

// NewSweeper builds a Sweeper. nowMs supplies the current time in
// milliseconds; production callers pass time.Now, tests pass a fake clock.
func NewSweeper(store *Store, settler Settler, cfg Config, nowMs func() int64) *Sweeper {
	return &Sweeper{store: store, settler: settler, cfg: cfg, nowMs: nowMs, metrics: noopMetrics{}}
}

// WithMetrics attaches a MetricsRecorder (e.g. the service's Prometheus
// metrics) that observes session counts and settlement outcomes.
func (sw *Sweeper) WithMetrics(m MetricsRecorder) *Sweeper {
	if m != nil {
		sw.metrics = m
	}
	return sw
}

// Run ticks until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.Tick(ctx)
		}
	}
}

// Tick runs one sweep pass over every tracked session.
func (sw *Sweeper) Tick(ctx context.Context) {
	entries := sw.store.Entries()
	sw.metrics.SetActiveSessions(len(entries))
	for _, s := range entries {
		sw.sweepOne(ctx, s)
	}
}

func (sw *Sweeper) sweepOne(ctx context.Context, s *Session) {
	snap := s.Snapshot()

	switch snap.Status {
	case StatusClosed:
		sw.store.Delete(snap.ID)
		return
	case StatusSettling:
		// Another settlement attempt already owns this session; the
		// sweeper must not observe status==settling concurrently with it.
		return
	}

	now := sw.nowMs()
	pending := snap.PendingSpent.Sign() > 0

	switch {
	case pending && now-snap.LastActivityMs >= sw.cfg.IdleTimeoutMs:
		sw.settleSession(ctx, s, "idle_timeout", false)
	case pending && sw.withinDeadlineBuffer(snap, now):
		sw.settleSession(ctx, s, "deadline_buffer", true)
	case pending && sw.capThresholdExceeded(snap):
		sw.settleSession(ctx, s, "cap_threshold", false)
	}

	// Regardless of pending: long idle, past deadline, or cap fully
	// settled all force the session closed (and, for long idle, deleted)
	// even if none of the ordered triggers above fired this tick.
	snap = s.Snapshot()
	if snap.Status == StatusSettling {
		return
	}
	longIdle := now-snap.LastActivityMs >= sw.cfg.LongIdleCloseMs
	capSettled := snap.SettledTotal.Cmp(snap.Cap) >= 0
	if !longIdle && !sw.pastDeadline(snap, now) && !capSettled {
		return
	}
	if snap.PendingSpent.Sign() > 0 {
		sw.settleSession(ctx, s, "auto_close", true)
	} else if snap.Status != StatusClosed {
		s.MarkClosed(now, "auto_close")
	}
	if longIdle {
		sw.store.Delete(snap.ID)
	}
}

func (sw *Sweeper) withinDeadlineBuffer(snap Snapshot, now int64) bool {
	if snap.Deadline == 0 {
		return false
	}
	deadlineMs := int64(snap.Deadline) * 1000
	return deadlineMs-now <= sw.cfg.DeadlineBufferMs
}

func (sw *Sweeper) pastDeadline(snap Snapshot, now int64) bool {
	return snap.Deadline != 0 && now >= int64(snap.Deadline)*1000
}

func (sw *Sweeper) capThresholdExceeded(snap Snapshot) bool {
	if sw.cfg.CapThresholdDenominator == 0 {
		return false
	}
	outstanding := new(big.Int).Add(snap.SettledTotal, snap.PendingSpent)
	lhs := new(big.Int).Mul(outstanding, big.NewInt(sw.cfg.CapThresholdDenominator))
	rhs := new(big.Int).Mul(snap.Cap, big.NewInt(sw.cfg.CapThresholdNumerator))
	return lhs.Cmp(rhs) >= 0
}

// settleSession drives one settlement attempt through the session's
// open->settling CAS gate, calls the chain settler with the batch amount,
// and resolves the session back to open or closed depending on outcome
// and whether the trigger is terminal.
func (sw *Sweeper) settleSession(ctx context.Context, s *Session, trigger string, terminal bool) {
	batch, ok := s.BeginSettling()
	if !ok {
		return
	}

	if batch.Sign() == 0 {
		now := sw.nowMs()
		if terminal {
			s.MarkClosed(now, trigger)
			sw.store.Delete(s.ID())
		} else {
			s.CompleteSettlement(batch, now, trigger, "", terminal)
		}
		return
	}

	snap := s.Snapshot()
	requirements := snap.Requirements
	requirements.Amount = batch.String()

	resp, err := sw.settler.Settle(ctx, snap.Payload, requirements)
	now := sw.nowMs()

	if err != nil || resp == nil || !resp.Success {
		reason := "settlement_failed"
		if resp != nil && resp.ErrorReason != "" {
			reason = resp.ErrorReason
		}
		s.FailSettlement(now, reason, terminal)
		sw.metrics.RecordSweeperSettle(trigger, false)
		return
	}

	s.CompleteSettlement(batch, now, trigger, resp.Transaction, terminal)
	sw.metrics.RecordSweeperSettle(trigger, true)
	if terminal {
		sw.store.Delete(s.ID())
	}
}
