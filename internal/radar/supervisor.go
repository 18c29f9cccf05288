package radar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/occupancy.sensor/internal/monitoring"
	"github.com/banshee-data/occupancy.sensor/internal/occupancy"
	"github.com/banshee-data/occupancy.sensor/internal/timeutil"
)

// Radar AT commands.
const (
	CommandReset = "AT+RESET\n"
	CommandStart = "AT+START\n"
	CommandStudy = "AT+STUDY\n"
)

const (
	// MaxRawCommandLength bounds a pending raw command including its newline.
	MaxRawCommandLength = 256

	DefaultResetCooldown = 60 * time.Second
	DefaultResetSettle   = time.Second
	DefaultTickInterval  = 100 * time.Millisecond

	// timeoutFactor times the history validity is how long the radar may stay
	// silent before an automatic reset.
	timeoutFactor = 10
)

// SupervisorConfig tunes the reset policy.
type SupervisorConfig struct {
	// ResetCooldown is the quiet window after a reset during which no
	// automatic reset happens.
	ResetCooldown time.Duration
	// ResetSettle is the wait between the reset and start commands.
	ResetSettle time.Duration
	// TickInterval is the Run loop period.
	TickInterval time.Duration
	// AutoReset enables resets on radar silence. Explicit requests are
	// honoured regardless.
	AutoReset bool
}

// DefaultSupervisorConfig returns the TLV radar defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		ResetCooldown: DefaultResetCooldown,
		ResetSettle:   DefaultResetSettle,
		TickInterval:  DefaultTickInterval,
		AutoReset:     true,
	}
}

// Supervisor owns the radar's reset policy, calibration state and the single
// pending raw command. Tick and HandleEvent run on the mainline loop;
// StartStudy, RequestReset and RequestRawCommand are safe from any goroutine.
type Supervisor struct {
	cfg     SupervisorConfig
	clock   timeutil.Clock
	port    io.Writer
	history *occupancy.History

	// portMu serializes command sequences on the port.
	portMu sync.Mutex

	mu        sync.Mutex
	studying  bool
	lastReset time.Time
	resets    int
	pending   []byte
	started   time.Time

	resetRequested atomic.Bool
}

// SupervisorStatus is a snapshot of the supervisor state.
type SupervisorStatus struct {
	Studying       bool            `json:"studying"`
	ResetRequested bool            `json:"reset_requested"`
	PendingCommand string          `json:"pending_command,omitempty"`
	LastReset      time.Time       `json:"last_reset"`
	LastCount      time.Time       `json:"last_count"`
	Resets         int             `json:"resets"`
	Average        occupancy.Count `json:"average"`
}

// NewSupervisor returns a Supervisor writing commands to port and watching
// history for staleness. A nil clock uses the real clock.
func NewSupervisor(port io.Writer, history *occupancy.History, clock timeutil.Clock, cfg SupervisorConfig) *Supervisor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.ResetCooldown <= 0 {
		cfg.ResetCooldown = DefaultResetCooldown
	}
	if cfg.ResetSettle < 0 {
		cfg.ResetSettle = 0
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &Supervisor{
		cfg:     cfg,
		clock:   clock,
		port:    port,
		history: history,
		started: clock.Now(),
		pending: make([]byte, 0, MaxRawCommandLength),
	}
}

func (s *Supervisor) write(cmd []byte) error {
	n, err := s.port.Write(cmd)
	if err != nil {
		return err
	}
	if n != len(cmd) {
		return io.ErrShortWrite
	}
	return nil
}

// Start performs the initial reset and configuration.
func (s *Supervisor) Start() error {
	return s.ResetAndConfigure()
}

// ResetAndConfigure resets the radar, waits for it to settle, starts it and
// stamps the reset time. The reset time is stamped even if a write fails so
// that a broken port cannot cause a reset storm.
func (s *Supervisor) ResetAndConfigure() error {
	s.portMu.Lock()
	err := s.write([]byte(CommandReset))
	s.clock.Sleep(s.cfg.ResetSettle)
	if startErr := s.write([]byte(CommandStart)); err == nil {
		err = startErr
	}
	s.portMu.Unlock()

	s.mu.Lock()
	s.lastReset = s.clock.Now()
	s.resets++
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("reset radar: %w", err)
	}
	return nil
}

// StartStudy asks the radar to start a calibration study.
func (s *Supervisor) StartStudy() error {
	s.portMu.Lock()
	err := s.write([]byte(CommandStudy))
	s.portMu.Unlock()
	if err != nil {
		return fmt.Errorf("start study: %w", err)
	}

	s.mu.Lock()
	s.studying = true
	s.mu.Unlock()
	monitoring.Logf("Radar study started")
	return nil
}

// RequestReset asks for a reset on the next tick. It is idempotent.
func (s *Supervisor) RequestReset() {
	s.resetRequested.Store(true)
}

// RequestRawCommand stores cmd for transmission on the next tick, appending a
// newline if it lacks one. It returns false without side effects if a command
// is already pending, cmd is empty, or cmd does not fit MaxRawCommandLength
// with its newline.
func (s *Supervisor) RequestRawCommand(cmd []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case len(s.pending) > 0:
		monitoring.Logf("Send request already in progress")
		return false
	case len(cmd) == 0:
		monitoring.Logf("Send request empty")
		return false
	case len(cmd) > MaxRawCommandLength,
		len(cmd) == MaxRawCommandLength && cmd[len(cmd)-1] != '\n':
		monitoring.Logf("Send request too long")
		return false
	}

	s.pending = append(s.pending[:0], cmd...)
	if !bytes.HasSuffix(s.pending, []byte("\n")) {
		s.pending = append(s.pending, '\n')
	}
	return true
}

// Tick applies the reset policy and flushes the pending raw command.
func (s *Supervisor) Tick() {
	now := s.clock.Now()
	lastCount, ok := s.history.LastUpdate()

	s.mu.Lock()
	if !ok {
		lastCount = s.started
	}
	radarTimeout := now.Sub(lastCount) > timeoutFactor*s.history.Validity()
	cooldown := !s.lastReset.IsZero() && now.Sub(s.lastReset) < s.cfg.ResetCooldown
	auto := s.cfg.AutoReset && radarTimeout && !cooldown && !s.studying
	lastReset := s.lastReset
	s.mu.Unlock()

	if requested := s.resetRequested.Swap(false); requested || auto {
		monitoring.Logf("Resetting radar (requested=%t, last count %s, last reset %s, now %s)",
			requested, fmtTime(lastCount), fmtTime(lastReset), fmtTime(now))
		if err := s.ResetAndConfigure(); err != nil {
			monitoring.Logf("Radar reset failed: %v", err)
		}
	}

	s.mu.Lock()
	cmd := bytes.Clone(s.pending)
	s.pending = s.pending[:0]
	s.mu.Unlock()

	if len(cmd) > 0 {
		monitoring.Logf("Sending requested message to radar")
		s.portMu.Lock()
		err := s.write(cmd)
		s.portMu.Unlock()
		if err != nil {
			monitoring.Logf("Failed to send requested message to radar: %v", err)
		}
	}
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339Nano)
}

// HandleEvent applies a decoded radar event.
func (s *Supervisor) HandleEvent(ev Event) {
	switch ev := ev.(type) {
	case FrameEvent:
		s.history.Record(ev.Frame.PersonCount)
	case ATResponseEvent:
		monitoring.Logf("Received AT response from radar:\n%s", ev.Text)
	case StudyResultEvent:
		monitoring.Logf("Studying result: %s", ev.Outcome)
		if ev.Outcome == StudyUnknown {
			monitoring.Logf("Unknown studying response % x", ev.Code)
		}
		if ev.Outcome.Finishes() {
			s.mu.Lock()
			s.studying = false
			s.lastReset = s.clock.Now()
			s.mu.Unlock()
		}
	case SaveFailedEvent:
		monitoring.Logf("Save Para Failed received from radar")
	default:
		monitoring.Logf("Unhandled radar event %T", ev)
	}
}

// Run applies events and ticks until ctx is done or events is closed.
func (s *Supervisor) Run(ctx context.Context, events <-chan Event) error {
	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.HandleEvent(ev)
		case <-ticker.C():
			s.Tick()
		}
	}
}

// Studying reports whether a calibration study is in progress.
func (s *Supervisor) Studying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.studying
}

// Status returns a snapshot of the supervisor state.
func (s *Supervisor) Status() SupervisorStatus {
	lastCount, _ := s.history.LastUpdate()
	avg := s.history.CurrentAverage()

	s.mu.Lock()
	defer s.mu.Unlock()
	return SupervisorStatus{
		Studying:       s.studying,
		ResetRequested: s.resetRequested.Load(),
		PendingCommand: string(s.pending),
		LastReset:      s.lastReset,
		LastCount:      lastCount,
		Resets:         s.resets,
		Average:        avg,
	}
}
