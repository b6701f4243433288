package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/mklimuk/sunrise/air"
	"github.com/mklimuk/sunrise/timing"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultReadyTimeout = 2000 * time.Millisecond
	HourLength          = time.Hour
)

// Outcome is the result kind of one measurement cycle.
type Outcome int

const (
	OutcomeMeasured Outcome = iota
	OutcomeStartFailed
	OutcomeReadyTimeout
	OutcomeReadFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMeasured:
		return "measured"
	case OutcomeStartFailed:
		return "start-measurement failure"
	case OutcomeReadyTimeout:
		return "ready-signal timeout"
	case OutcomeReadFailed:
		return "measurement-read failure"
	default:
		return "unknown"
	}
}

// Cycle describes what happened during one measurement cycle.
type Cycle struct {
	Outcome Outcome
	// Err is the soft failure, nil when Outcome is OutcomeMeasured.
	Err error
	// Start is the clock value right after the measurement was triggered.
	Start uint32
	// Duration is the time between Start and the ready signal, in ms.
	Duration    uint32
	Measurement air.Measurement

	HourCount uint16
	// SensorHours is the ABC time read from the sensor before reconciliation.
	SensorHours    uint16
	HoursCorrected bool

	// Next is the anchor of the following cycle.
	Next uint32
}

// Reporter receives every completed cycle.
type Reporter interface {
	Report(c Cycle)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(c Cycle)

func (f ReporterFunc) Report(c Cycle) { f(c) }

// Anchors are the absolute clock values the scheduler is aiming for.
type Anchors struct {
	NextHour        uint32
	NextMeasurement uint32
}

type SchedulerOpts struct {
	Interval     time.Duration
	ReadyTimeout time.Duration
	HourLength   time.Duration
	Pause        timing.Pause
	// KeepSensorHours reads the sensor ABC counter for reporting but never
	// overwrites it.
	KeepSensorHours bool
}

type SchedulerOpt func(*SchedulerOpts)

func WithInterval(d time.Duration) SchedulerOpt {
	return func(o *SchedulerOpts) {
		o.Interval = d
	}
}

func WithReadyTimeout(d time.Duration) SchedulerOpt {
	return func(o *SchedulerOpts) {
		o.ReadyTimeout = d
	}
}

// WithHourLength changes the length of an ABC hour. Only useful in tests.
func WithHourLength(d time.Duration) SchedulerOpt {
	return func(o *SchedulerOpts) {
		o.HourLength = d
	}
}

// WithKeepSensorHours disables hour reconciliation. One-shot measurements use
// it since a fresh controller count of zero would wipe the ABC history.
func WithKeepSensorHours() SchedulerOpt {
	return func(o *SchedulerOpts) {
		o.KeepSensorHours = true
	}
}

func WithPause(p timing.Pause) SchedulerOpt {
	return func(o *SchedulerOpts) {
		o.Pause = p
	}
}

// Scheduler runs one measurement cycle per interval. Anchors only ever move
// forward by fixed increments so that late cycles do not accumulate drift.
type Scheduler struct {
	drv      Driver
	clock    timing.Clock
	waiter   *timing.Waiter
	ready    *timing.Signal
	reporter Reporter

	interval     uint32
	readyTimeout uint32
	hour         uint32
	keepHours    bool

	started   bool
	hourCount uint16
	anchors   Anchors
}

func NewScheduler(drv Driver, clock timing.Clock, ready *timing.Signal, reporter Reporter, opts ...SchedulerOpt) *Scheduler {
	config := SchedulerOpts{
		Interval:     DefaultInterval,
		ReadyTimeout: DefaultReadyTimeout,
		HourLength:   HourLength,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if reporter == nil {
		reporter = ReporterFunc(func(Cycle) {})
	}
	return &Scheduler{
		drv:          drv,
		clock:        clock,
		waiter:       timing.NewWaiter(clock, config.Pause),
		ready:        ready,
		reporter:     reporter,
		interval:     uint32(config.Interval.Milliseconds()),
		readyTimeout: uint32(config.ReadyTimeout.Milliseconds()),
		hour:         uint32(config.HourLength.Milliseconds()),
		keepHours:    config.KeepSensorHours,
	}
}

// Start sets the anchors: the first hour boundary one hour from now and the
// first measurement immediately.
func (s *Scheduler) Start() {
	now := s.clock.Millis()
	s.anchors = Anchors{
		NextHour:        now + s.hour,
		NextMeasurement: now,
	}
	s.started = true
}

func (s *Scheduler) Anchors() Anchors {
	return s.anchors
}

func (s *Scheduler) HourCount() uint16 {
	return s.hourCount
}

// Run starts the schedule and executes cycles until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.RunCycle(ctx); err != nil {
			return err
		}
		if err := s.waiter.DelayUntil(ctx, s.anchors.NextMeasurement); err != nil {
			return err
		}
	}
}

// RunCycle performs a single measurement cycle and advances the measurement
// anchor. Soft failures are reported through Cycle; the returned error is
// non-nil only when ctx is done.
func (s *Scheduler) RunCycle(ctx context.Context) (Cycle, error) {
	if !s.started {
		s.Start()
	}
	if err := s.drv.Wake(ctx); err != nil {
		slog.Warn("could not wake sensor", "error", err)
	}

	if timing.HasReached(s.anchors.NextHour, s.clock.Millis()) {
		s.hourCount++
		s.anchors.NextHour += s.hour
	}
	cycle := Cycle{HourCount: s.hourCount}
	s.reconcileHours(ctx, &cycle)

	err := s.measure(ctx, &cycle)

	// power down even when shutting down
	if serr := s.drv.Sleep(context.WithoutCancel(ctx)); serr != nil {
		slog.Warn("could not put sensor to sleep", "error", serr)
	}

	s.anchors.NextMeasurement += s.interval
	cycle.Next = s.anchors.NextMeasurement
	if err != nil {
		return cycle, err
	}
	s.reporter.Report(cycle)
	return cycle, nil
}

// reconcileHours pushes the controller hour count to the sensor when the
// sensor counter differs. An unreadable counter is treated as different.
func (s *Scheduler) reconcileHours(ctx context.Context, cycle *Cycle) {
	hours, err := s.drv.ABCTime(ctx)
	if err != nil {
		slog.Warn("could not read ABC time", "error", err)
	}
	cycle.SensorHours = hours
	if s.keepHours || (err == nil && hours == s.hourCount) {
		return
	}
	if err := s.drv.SetABCTime(ctx, s.hourCount); err != nil {
		slog.Warn("could not write ABC time", "hours", s.hourCount, "error", err)
		return
	}
	cycle.HoursCorrected = true
}

func (s *Scheduler) measure(ctx context.Context, cycle *Cycle) error {
	// a late edge from the previous cycle must not satisfy this wait
	s.ready.Clear()
	if err := s.drv.StartSingleMeasurement(ctx); err != nil {
		cycle.Outcome, cycle.Err = OutcomeStartFailed, err
		return nil
	}
	cycle.Start = s.clock.Millis()

	ok, err := s.waiter.AwaitSignal(ctx, s.ready, s.readyTimeout)
	if err != nil {
		return err
	}
	if !ok {
		cycle.Outcome, cycle.Err = OutcomeReadyTimeout, ErrReadyTimeout
		return nil
	}
	cycle.Duration = timing.Elapsed(cycle.Start, s.clock.Millis())

	m, err := s.drv.ReadMeasurement(ctx)
	if err != nil {
		cycle.Outcome, cycle.Err = OutcomeReadFailed, err
		return nil
	}
	cycle.Outcome, cycle.Measurement = OutcomeMeasured, m
	return nil
}
