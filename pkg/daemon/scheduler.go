package daemon

import (
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	// leadDuration is how long before a run the upcoming notice goes out.
	leadDuration = time.Minute * 5
	// A run is deferred while PreCheck fails, at most preCheckMaxTimes
	// times preCheckInterval apart, and then dropped.
	preCheckMaxTimes = 30
	preCheckInterval = time.Second * 10
)

var (
	errNoSchedule      = pkgerrors.New("no active schedule")
	errPostponeTooLong = pkgerrors.New("postpone duration too long: it would pass the following run")
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler runs Task on a cron schedule. Only the next run is tracked, so
// Postpone and Skip affect a single occurrence.
type Scheduler struct {
	OnUpcoming func(at time.Time)      // called leadDuration before a run
	OnError    func(err error)         // called when a run is deferred, dropped or fails
	Task       func(at time.Time) error // the run itself
	PreCheck   func() error            // a run waits while this fails

	mu       sync.Mutex
	expr     string
	schedule cron.Schedule
	nextRun  time.Time
	running  bool
	stop     chan struct{}

	wake chan struct{}
}

func NewScheduler(task func(at time.Time) error, preCheck func() error, onUpcoming func(at time.Time), onError func(err error)) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		OnUpcoming: onUpcoming,
		OnError:    onError,
		Task:       task,
		PreCheck:   preCheck,
		wake:       make(chan struct{}, 1),
	}
}

// ParseCron validates a cron expression the way Schedule does.
func ParseCron(expr string) (cron.Schedule, error) {
	sh, err := cronParser.Parse(expr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid cron expression %q", expr)
	}
	return sh, nil
}

// Schedule replaces the schedule. An empty expression clears it.
func (s *Scheduler) Schedule(expr string) error {
	var sh cron.Schedule
	if expr != "" {
		var err error
		if sh, err = ParseCron(expr); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.expr = expr
	s.schedule = sh
	s.nextRun = time.Time{}
	if sh != nil {
		s.nextRun = sh.Next(time.Now())
	}
	s.mu.Unlock()

	s.poke()
	return nil
}

// Postpone moves the next run later by d. The new time must stay before
// the run after it.
func (s *Scheduler) Postpone(d time.Duration) error {
	if d <= 0 {
		return pkgerrors.New("postpone duration must be positive")
	}

	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return errNoSchedule
	}
	pp := s.nextRun.Add(d).Truncate(time.Second)
	if !pp.Before(s.schedule.Next(s.nextRun)) {
		s.mu.Unlock()
		return errPostponeTooLong
	}
	s.nextRun = pp
	s.mu.Unlock()

	s.poke()
	return nil
}

// Skip drops the next run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return errNoSchedule
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	s.mu.Unlock()

	s.poke()
	return nil
}

// Status returns the expression, the next run and whether the loop runs.
func (s *Scheduler) Status() (expr string, nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr, s.nextRun, s.running
}

// NextRuns returns up to n upcoming run times, starting with the (possibly
// postponed) next run.
func (s *Scheduler) NextRuns(n int) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == nil || s.nextRun.IsZero() {
		return nil
	}
	runs := []time.Time{s.nextRun}
	for len(runs) < n {
		runs = append(runs, s.schedule.Next(runs[len(runs)-1]))
	}
	return runs
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	go s.loop(s.stop)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(stop <-chan struct{}) {
	logrus.Debug("scheduler started")
	defer logrus.Debug("scheduler stopped")

	var (
		announced time.Time // run time whose upcoming notice was sent
		retryAt   time.Time
		attempts  int
	)

	for {
		s.mu.Lock()
		next := s.nextRun
		s.mu.Unlock()

		var timerC <-chan time.Time
		var timer *time.Timer
		if !next.IsZero() {
			var wait time.Duration
			switch {
			case !retryAt.IsZero():
				wait = time.Until(retryAt)
			case !next.Equal(announced):
				wait = time.Until(next) - leadDuration
			default:
				wait = time.Until(next)
			}
			timer = time.NewTimer(max(wait, 0))
			timerC = timer.C
		}

		select {
		case <-stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
			retryAt, attempts = time.Time{}, 0
			continue
		case <-timerC:
		}

		if !next.Equal(announced) && time.Until(next) > 0 {
			announced = next
			logrus.WithField("at", next.Format(time.DateTime)).Debug("upcoming scheduled run")
			s.notifyUpcoming(next)
			continue
		}

		if s.PreCheck != nil {
			if err := s.PreCheck(); err != nil {
				attempts++
				if attempts <= preCheckMaxTimes {
					logrus.WithError(err).WithField("attempt", attempts).Debug("scheduled run deferred")
					if attempts == 1 {
						s.fail(pkgerrors.Wrap(err, "scheduled run deferred"))
					}
					retryAt = time.Now().Add(preCheckInterval)
					continue
				}
				s.fail(pkgerrors.Wrap(err, "scheduled run dropped"))
				retryAt, attempts = time.Time{}, 0
				s.advance(next)
				continue
			}
		}
		retryAt, attempts = time.Time{}, 0

		logrus.WithField("at", next.Format(time.DateTime)).Debug("running scheduled task")
		go func(at time.Time) {
			if err := s.Task(at); err != nil {
				s.fail(pkgerrors.Wrap(err, "scheduled task failed"))
			}
		}(next)
		s.advance(next)
	}
}

// advance moves past the run at done unless the schedule changed
// meanwhile.
func (s *Scheduler) advance(done time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil || !s.nextRun.Equal(done) {
		return
	}
	s.nextRun = s.schedule.Next(time.Now())
}

func (s *Scheduler) notifyUpcoming(at time.Time) {
	if s.OnUpcoming == nil {
		return
	}
	go s.OnUpcoming(at)
}

func (s *Scheduler) fail(err error) {
	if s.OnError == nil {
		return
	}
	go s.OnError(err)
}
