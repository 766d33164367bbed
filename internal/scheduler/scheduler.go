// Package scheduler tracks invoker liveness and capacity and picks the
// invoker for each invocation. The registry is a plain in-memory map
// fed by the heartbeat stream; losing it on restart only costs one
// heartbeat interval of scheduling accuracy.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/penguinwhisk/controller/internal/broker"
	"github.com/penguinwhisk/controller/internal/werr"
)

// Invoker is one registered invoker as last seen through heartbeats.
type Invoker struct {
	ID       string
	Status   string
	LastSeen time.Time
	Capacity broker.Capacity
}

// Healthy reports whether the invoker is schedulable given the
// staleness window.
func (i Invoker) Healthy(now time.Time, window time.Duration) bool {
	return i.Status == "healthy" && now.Sub(i.LastSeen) <= window
}

func (i Invoker) supports(kind string) bool {
	for _, r := range i.Capacity.SupportedRuntimes {
		if r == kind {
			return true
		}
	}
	return false
}

// Scheduler consumes heartbeats and serves placement decisions. All
// registry access is mutex-guarded; no I/O happens under the lock.
type Scheduler struct {
	broker   *broker.Client
	window   time.Duration
	interval time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	invokers map[string]*Invoker
	lastID   string

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Options configure the scheduler.
type Options struct {
	Broker   *broker.Client
	Window   time.Duration // heartbeat staleness window
	Interval time.Duration // monitor poll interval
	Logger   *zap.Logger
}

// New builds a scheduler. Call Start to begin consuming heartbeats.
func New(opts Options) *Scheduler {
	if opts.Window <= 0 {
		opts.Window = 30 * time.Second
	}
	if opts.Interval <= 0 || opts.Interval > time.Second {
		opts.Interval = time.Second
	}
	return &Scheduler{
		broker:   opts.Broker,
		window:   opts.Window,
		interval: opts.Interval,
		log:      opts.Logger,
		invokers: make(map[string]*Invoker),
		// The stream is bounded by maxlen, so reading from the start is
		// cheap and never strands the bookmark on an empty stream.
		lastID: "0",
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the heartbeat monitor. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.monitor(ctx)
	})
}

// Stop signals the monitor and waits for it to exit, up to five
// seconds. Idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		s.log.Warn("heartbeat monitor did not stop in time")
	}
}

func (s *Scheduler) monitor(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Seed the registry from recent heartbeats so a controller restart
	// does not start with an empty cluster view.
	s.seed(ctx)

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
			s.expire(time.Now())
		}
	}
}

func (s *Scheduler) seed(ctx context.Context) {
	msgs, err := s.broker.ReadRecent(ctx, broker.StreamHeartbeats, 100)
	if err != nil {
		s.log.Warn("seed heartbeats", zap.Error(err))
		return
	}
	// ReadRecent is newest first; apply oldest first so the freshest
	// heartbeat per invoker wins.
	for i := len(msgs) - 1; i >= 0; i-- {
		s.apply(msgs[i])
	}
	if len(msgs) > 0 {
		s.mu.Lock()
		s.lastID = msgs[0].ID
		s.mu.Unlock()
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	s.mu.Lock()
	lastID := s.lastID
	s.mu.Unlock()

	readCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()
	msgs, err := s.broker.ReadBlocking(readCtx, broker.StreamHeartbeats, lastID, 10*time.Millisecond, 100)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("read heartbeats", zap.Error(err))
		}
		return
	}
	for _, msg := range msgs {
		s.apply(msg)
		s.mu.Lock()
		s.lastID = msg.ID
		s.mu.Unlock()
	}
}

func (s *Scheduler) apply(msg broker.Message) {
	hb, err := broker.ParseHeartbeat(msg.Fields)
	if err != nil {
		s.log.Warn("malformed heartbeat", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invokers[hb.InvokerID]
	if !ok {
		inv = &Invoker{ID: hb.InvokerID}
		s.invokers[hb.InvokerID] = inv
		s.log.Info("invoker registered", zap.String("invoker", hb.InvokerID))
	}
	inv.Status = hb.Status
	inv.Capacity = hb.Capacity
	inv.LastSeen = time.Now()
}

// expire marks invokers unhealthy once their heartbeats go stale.
func (s *Scheduler) expire(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, inv := range s.invokers {
		if inv.Status == "healthy" && now.Sub(inv.LastSeen) > s.window {
			inv.Status = "unhealthy"
			s.log.Warn("invoker went stale", zap.String("invoker", id),
				zap.Duration("since", now.Sub(inv.LastSeen)))
		}
	}
}

// Select picks the invoker for an action needing memoryMB and runtime
// kind. Candidates split into a warm set (any warm container) and a
// cold set; within the preferred set the invoker with the most
// available memory wins, lowest id on ties. The deterministic
// tie-break keeps placement stable across controllers sharing the
// same view.
func (s *Scheduler) Select(kind string, memoryMB int) (*Invoker, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*Invoker
	for _, inv := range s.invokers {
		if !inv.Healthy(now, s.window) {
			continue
		}
		if inv.Capacity.AvailableMemory < memoryMB {
			continue
		}
		if !inv.supports(kind) {
			continue
		}
		candidates = append(candidates, inv)
	}
	if len(candidates) == 0 {
		return nil, werr.New(werr.KindServiceUnavailable, "no invoker available")
	}

	sort.Slice(candidates, func(a, b int) bool {
		ca, cb := candidates[a], candidates[b]
		warmA, warmB := ca.Capacity.WarmContainers > 0, cb.Capacity.WarmContainers > 0
		if warmA != warmB {
			return warmA
		}
		if ca.Capacity.AvailableMemory != cb.Capacity.AvailableMemory {
			return ca.Capacity.AvailableMemory > cb.Capacity.AvailableMemory
		}
		return ca.ID < cb.ID
	})

	chosen := *candidates[0]
	// Deduct optimistically; the next heartbeat corrects the view.
	candidates[0].Capacity.AvailableMemory -= memoryMB
	return &chosen, nil
}

// Observe updates the registry directly. Used by tests and by callers
// that learn about invokers outside the heartbeat stream.
func (s *Scheduler) Observe(hb broker.Heartbeat) {
	s.apply(broker.Message{Fields: mustFields(hb)})
}

func mustFields(hb broker.Heartbeat) map[string]string {
	raw, _ := hb.Fields()
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		fields[k] = v.(string)
	}
	return fields
}

// Snapshot returns a copy of the current registry, id ascending.
func (s *Scheduler) Snapshot() []Invoker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Invoker, 0, len(s.invokers))
	for _, inv := range s.invokers {
		out = append(out, *inv)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// ClusterCapacity sums capacity across healthy invokers.
func (s *Scheduler) ClusterCapacity() broker.Capacity {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var total broker.Capacity
	runtimes := map[string]struct{}{}
	for _, inv := range s.invokers {
		if !inv.Healthy(now, s.window) {
			continue
		}
		total.TotalMemory += inv.Capacity.TotalMemory
		total.AvailableMemory += inv.Capacity.AvailableMemory
		total.WarmContainers += inv.Capacity.WarmContainers
		total.BusyContainers += inv.Capacity.BusyContainers
		total.PrewarmContainers += inv.Capacity.PrewarmContainers
		for _, r := range inv.Capacity.SupportedRuntimes {
			runtimes[r] = struct{}{}
		}
	}
	for r := range runtimes {
		total.SupportedRuntimes = append(total.SupportedRuntimes, r)
	}
	sort.Strings(total.SupportedRuntimes)
	return total
}
