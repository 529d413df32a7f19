// Package scheduler tracks per-instance deadlines and fires timeout and
// escalation work when they elapse. It is an explicit object with an
// injected clock, constructed once and handed to the engine, so tests can
// drive time deterministically.
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/procflow/procflow/pkg/clock"
	"github.com/procflow/procflow/pkg/models"
)

// Entry is one armed deadline. Rule is nil for plain timer-node firings
// and set for SLA escalations; Repeat counts prior firings of the same
// escalation.
type Entry struct {
	FireAt     time.Time
	InstanceID string
	NodeID     string
	Rule       *models.EscalationRule
	Repeat     int
}

// TimerHandler receives due firings. Implementations report whether the
// node was still active: inactive firings are discarded because the branch
// already advanced by other means.
type TimerHandler interface {
	HandleTimerFired(ctx context.Context, instanceID, nodeID string, firedAt time.Time) (active bool, err error)
	HandleEscalationFired(ctx context.Context, instanceID, nodeID string, rule *models.EscalationRule, repeat int, firedAt time.Time) (active bool, err error)
}

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return h[i].FireAt.Before(h[j].FireAt) }

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return entry
}

// Scheduler keeps a time-ordered queue of deadlines and a poll loop that
// dispatches the due ones.
type Scheduler struct {
	mu           sync.Mutex
	queue        entryHeap
	clk          clock.Clock
	logger       *slog.Logger
	pollInterval time.Duration
}

func NewScheduler(clk clock.Clock, logger *slog.Logger, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	s := &Scheduler{
		clk:          clk,
		logger:       logger.With("module", "scheduler"),
		pollInterval: pollInterval,
	}
	heap.Init(&s.queue)

	return s
}

// Arm queues a deadline.
func (s *Scheduler) Arm(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry
	heap.Push(&s.queue, &e)
}

// ArmTimer queues a timer-node firing after d.
func (s *Scheduler) ArmTimer(instanceID, nodeID string, d time.Duration) {
	s.Arm(Entry{FireAt: s.clk.Now().Add(d), InstanceID: instanceID, NodeID: nodeID})
}

// ArmEscalation queues the first firing of an escalation rule.
func (s *Scheduler) ArmEscalation(instanceID, nodeID string, rule *models.EscalationRule) {
	s.Arm(Entry{
		FireAt:     s.clk.Now().Add(rule.TriggerAfter),
		InstanceID: instanceID,
		NodeID:     nodeID,
		Rule:       rule,
	})
}

// Disarm drops pending entries for one node of one instance.
func (s *Scheduler) Disarm(instanceID, nodeID string) {
	s.retain(func(e *Entry) bool {
		return e.InstanceID != instanceID || e.NodeID != nodeID
	})
}

// DisarmInstance drops every pending entry for an instance.
func (s *Scheduler) DisarmInstance(instanceID string) {
	s.retain(func(e *Entry) bool { return e.InstanceID != instanceID })
}

func (s *Scheduler) retain(keep func(*Entry) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept entryHeap

	for _, e := range s.queue {
		if keep(e) {
			kept = append(kept, e)
		}
	}

	s.queue = kept
	heap.Init(&s.queue)
}

// Due pops every entry whose fire time has passed.
func (s *Scheduler) Due(now time.Time) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Entry

	for s.queue.Len() > 0 && !s.queue[0].FireAt.After(now) {
		due = append(due, heap.Pop(&s.queue).(*Entry))
	}

	return due
}

// Pending reports the queued entry count.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queue.Len()
}

// Tick runs one poll cycle: pop everything due, dispatch it, re-arm
// repeating escalations. Late firings are logged with their overshoot and
// still executed; a missed timer is never fatal.
func (s *Scheduler) Tick(ctx context.Context, handler TimerHandler) {
	now := s.clk.Now()

	for _, entry := range s.Due(now) {
		overshoot := now.Sub(entry.FireAt)
		if overshoot > 2*s.pollInterval {
			s.logger.WarnContext(ctx, "Timer fired late",
				"instance_id", entry.InstanceID,
				"node_id", entry.NodeID,
				"overshoot", overshoot)
		}

		if entry.Rule == nil {
			s.fireTimer(ctx, handler, entry, now)

			continue
		}

		s.fireEscalation(ctx, handler, entry, now)
	}
}

func (s *Scheduler) fireTimer(ctx context.Context, handler TimerHandler, entry *Entry, now time.Time) {
	_, err := handler.HandleTimerFired(ctx, entry.InstanceID, entry.NodeID, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Timer firing failed",
			"instance_id", entry.InstanceID, "node_id", entry.NodeID, "error", err)
	}
}

func (s *Scheduler) fireEscalation(ctx context.Context, handler TimerHandler, entry *Entry, now time.Time) {
	active, err := handler.HandleEscalationFired(ctx, entry.InstanceID, entry.NodeID, entry.Rule, entry.Repeat, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Escalation firing failed",
			"instance_id", entry.InstanceID, "node_id", entry.NodeID, "error", err)

		return
	}

	if !active {
		return
	}

	next, ok := s.nextEscalation(entry.Rule, entry.Repeat, now)
	if !ok {
		return
	}

	s.Arm(Entry{
		FireAt:     next,
		InstanceID: entry.InstanceID,
		NodeID:     entry.NodeID,
		Rule:       entry.Rule,
		Repeat:     entry.Repeat + 1,
	})
}

// nextEscalation computes the follow-up firing time. A rule with neither a
// repeat interval nor a cron expression fires exactly once; MaxRepeats
// bounds the follow-ups (0 repeats indefinitely).
func (s *Scheduler) nextEscalation(rule *models.EscalationRule, repeat int, now time.Time) (time.Time, bool) {
	if rule.MaxRepeats > 0 && repeat+1 > rule.MaxRepeats {
		return time.Time{}, false
	}

	if rule.CronExpression != "" {
		schedule, err := cron.ParseStandard(rule.CronExpression)
		if err != nil {
			s.logger.Error("Invalid escalation cron expression",
				"expression", rule.CronExpression, "error", err)

			return time.Time{}, false
		}

		return schedule.Next(now), true
	}

	if rule.RepeatInterval <= 0 {
		return time.Time{}, false
	}

	return now.Add(rule.RepeatInterval), true
}

// Poll runs Tick every poll interval until the context is cancelled.
func (s *Scheduler) Poll(ctx context.Context, handler TimerHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clk.After(s.pollInterval):
			s.Tick(ctx, handler)
		}
	}
}
