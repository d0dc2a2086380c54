// Package heartbeat runs the periodic probe/acknowledge cycle for one
// authenticated session.
package heartbeat

import (
	"errors"
	"sync"
	"time"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 3 * time.Second
)

var ErrUnexpectedAck = errors.New("acknowledgment without probe")

// Monitor sends a probe every interval and calls expire when a probe is not
// acknowledged within timeout. No new probe goes out while one is unanswered. Timer callbacks carry the generation they
// were armed under and do nothing once Stop or a later Start has moved it.
type Monitor struct {
	interval time.Duration
	timeout  time.Duration
	probe    func() error
	expire   func()

	mu          sync.Mutex
	running     bool
	gen         uint64
	seq         uint64
	outstanding bool
	probeTimer  *time.Timer
	ackTimer    *time.Timer
}

func New(interval, timeout time.Duration, probe func() error, expire func()) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{
		interval: interval,
		timeout:  timeout,
		probe:    probe,
		expire:   expire,
	}
}

// Start is a no-op if the monitor is already running.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.outstanding = false
	m.gen++
	m.armProbeLocked(m.gen)
}

// Stop cancels both timers. It is safe to call repeatedly and from any goroutine.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Ack records a probe acknowledgment. It fails with ErrUnexpectedAck when no
// probe is outstanding, leaving the deadline untouched.
func (m *Monitor) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || !m.outstanding {
		return ErrUnexpectedAck
	}
	m.outstanding = false
	if m.ackTimer != nil {
		m.ackTimer.Stop()
		m.ackTimer = nil
	}
	return nil
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) stopLocked() {
	if !m.running {
		return
	}
	m.running = false
	m.outstanding = false
	m.gen++
	if m.probeTimer != nil {
		m.probeTimer.Stop()
		m.probeTimer = nil
	}
	if m.ackTimer != nil {
		m.ackTimer.Stop()
		m.ackTimer = nil
	}
}

func (m *Monitor) armProbeLocked(gen uint64) {
	m.probeTimer = time.AfterFunc(m.interval, func() { m.onProbe(gen) })
}

func (m *Monitor) onProbe(gen uint64) {
	m.mu.Lock()
	if !m.running || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.armProbeLocked(gen)
	// the armed deadline of an unanswered probe must still fire
	if m.outstanding {
		m.mu.Unlock()
		return
	}
	m.seq++
	seq := m.seq
	m.outstanding = true
	m.ackTimer = time.AfterFunc(m.timeout, func() { m.onDeadline(gen, seq) })
	m.mu.Unlock()

	// a failed write surfaces on the session's read loop; the deadline still stands
	_ = m.probe()
}

func (m *Monitor) onDeadline(gen, seq uint64) {
	m.mu.Lock()
	if !m.running || gen != m.gen || seq != m.seq || !m.outstanding {
		m.mu.Unlock()
		return
	}
	m.stopLocked()
	m.mu.Unlock()

	m.expire()
}
