// Package memwatch samples process memory and classifies pressure.
//
// The monitor is purely advisory: it notifies subscribers when pressure
// crosses the warning, critical, or absolute-ceiling thresholds and runs a
// best-effort reclamation pass, but it never blocks or rejects operations.
// The streaming layer enforces its own independent byte ceiling.
package memwatch

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Pressure classifies a sample against the configured thresholds.
type Pressure string

const (
	PressureNormal   Pressure = "normal"
	PressureWarning  Pressure = "warning"
	PressureCritical Pressure = "critical"
	PressureMaximum  Pressure = "maximum"
)

const (
	// DefaultInterval is the sampling period.
	DefaultInterval = 30 * time.Second
	// DefaultWarningPct and DefaultCriticalPct are percent-of-heap-total
	// thresholds.
	DefaultWarningPct  = 70.0
	DefaultCriticalPct = 85.0

	// sampleHistoryLimit bounds the retained sample ring.
	sampleHistoryLimit = 100
)

// Sample is one point-in-time memory reading.
type Sample struct {
	HeapUsed    int64     `json:"heap_used"`
	HeapTotal   int64     `json:"heap_total"`
	External    int64     `json:"external"` // non-heap Go runtime memory
	RSS         int64     `json:"rss"`      // resident set size, 0 if unavailable
	PercentUsed float64   `json:"percent_used"`
	Timestamp   time.Time `json:"timestamp"`
}

// BreachFunc receives every sample that classifies above normal.
type BreachFunc func(Sample, Pressure)

// Config tunes the monitor. Zero fields fall back to the defaults; a zero
// MaxBytes disables the absolute ceiling.
type Config struct {
	Interval    time.Duration
	WarningPct  float64
	CriticalPct float64
	MaxBytes    int64
}

// DefaultConfig returns the standard monitor configuration.
func DefaultConfig() Config {
	return Config{
		Interval:    DefaultInterval,
		WarningPct:  DefaultWarningPct,
		CriticalPct: DefaultCriticalPct,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.WarningPct <= 0 {
		c.WarningPct = DefaultWarningPct
	}
	if c.CriticalPct <= 0 {
		c.CriticalPct = DefaultCriticalPct
	}
	return c
}

// Monitor periodically samples process memory. Construct with NewMonitor
// and pass by reference to whichever subsystem needs it — there is no
// package-level singleton.
type Monitor struct {
	cfg Config

	mu          sync.Mutex
	subscribers []BreachFunc
	history     []Sample

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a Monitor with the given configuration.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{cfg: cfg.withDefaults()}
}

// Subscribe registers a breach callback. Callbacks run on the sampling
// goroutine and must return promptly.
func (m *Monitor) Subscribe(fn BreachFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Start begins periodic sampling until ctx is canceled or Stop is called.
// Starting an already-running monitor is an error.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return fmt.Errorf("monitor already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx)
	return nil
}

// Stop halts sampling and waits for the sampling goroutine to exit.
// Stopping a monitor that was never started is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check takes one sample immediately, records it, classifies it, notifies
// subscribers on a breach, and triggers reclamation at critical or above.
// Returns the sample and its classification.
func (m *Monitor) Check() (Sample, Pressure) {
	sample := takeSample()
	pressure := m.classify(sample)

	m.mu.Lock()
	m.history = append(m.history, sample)
	if len(m.history) > sampleHistoryLimit {
		m.history = m.history[len(m.history)-sampleHistoryLimit:]
	}
	subscribers := make([]BreachFunc, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	if pressure != PressureNormal {
		for _, fn := range subscribers {
			fn(sample, pressure)
		}
	}
	if pressure == PressureCritical || pressure == PressureMaximum {
		reclaim()
	}
	return sample, pressure
}

// History returns a copy of the retained samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// classify maps a sample onto a pressure level. The absolute ceiling wins
// over the percentage thresholds.
func (m *Monitor) classify(s Sample) Pressure {
	if m.cfg.MaxBytes > 0 && effectiveUsage(s) > m.cfg.MaxBytes {
		return PressureMaximum
	}
	switch {
	case s.PercentUsed >= m.cfg.CriticalPct:
		return PressureCritical
	case s.PercentUsed >= m.cfg.WarningPct:
		return PressureWarning
	default:
		return PressureNormal
	}
}

// effectiveUsage prefers RSS when available — it captures memory the Go
// heap accounting misses.
func effectiveUsage(s Sample) int64 {
	if s.RSS > s.HeapUsed {
		return s.RSS
	}
	return s.HeapUsed
}

// reclaim runs a best-effort reclamation pass: collect garbage, then hand
// freed pages back to the OS.
func reclaim() {
	runtime.GC()
	debug.FreeOSMemory()
}

// takeSample reads runtime memory statistics plus RSS where the platform
// exposes it.
func takeSample() Sample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	heapUsed := int64(ms.HeapInuse)
	heapTotal := int64(ms.HeapSys)
	var pct float64
	if heapTotal > 0 {
		pct = float64(heapUsed) / float64(heapTotal) * 100
	}

	return Sample{
		HeapUsed:    heapUsed,
		HeapTotal:   heapTotal,
		External:    int64(ms.Sys) - heapTotal,
		RSS:         readRSS(),
		PercentUsed: pct,
		Timestamp:   time.Now(),
	}
}

// readRSS returns the resident set size from /proc on Linux, 0 elsewhere.
func readRSS() int64 {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0
	}
	pages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return pages * int64(os.Getpagesize())
}
