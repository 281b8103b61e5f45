package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/clock"
	"github.com/omzlo/nocan-node-manager/internal/clock/system"
	"github.com/omzlo/nocan-node-manager/internal/id"
	"github.com/omzlo/nocan-node-manager/internal/progress"
	"github.com/omzlo/nocan-node-manager/internal/transport"
)

// DefaultInterval is the delay between two status polls.
const DefaultInterval = 500 * time.Millisecond

// DoneBody is the status body that marks a finished job.
const DoneBody = "done"

var (
	// ErrAlreadyStarted is returned when Start is called twice on a Session.
	ErrAlreadyStarted = errors.New("poller: session already started")
	// ErrMissingLocation reports a 202 reply without a status URL.
	ErrMissingLocation = errors.New("poller: accepted response has no Location header")
)

// Transport performs a single request and returns the full response.
// *transport.Client satisfies it.
type Transport interface {
	Do(ctx context.Context, req transport.Request) (transport.Response, error)
}

// Display is the text element updated on every state change.
type Display interface {
	SetText(text string)
}

// Navigator follows the Location returned with a finished job.
type Navigator interface {
	Navigate(ctx context.Context, location string) error
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(ctx context.Context, location string) error

// Navigate calls f(ctx, location).
func (f NavigatorFunc) Navigate(ctx context.Context, location string) error {
	return f(ctx, location)
}

// Config tunes a Session.
type Config struct {
	// Interval between status polls; DefaultInterval when zero.
	Interval time.Duration
}

// Deps are the collaborators a Session works with. Transport and Display are
// required; the rest fall back to real-time, no-op or discarding defaults.
type Deps struct {
	Transport Transport
	Display   Display
	Navigator Navigator
	Clock     clock.Clock
	Emitter   progress.Emitter
	Logger    *zap.Logger
}

// Outcome is the terminal result of a Session.
type Outcome struct {
	State State
	// StatusCode is the last HTTP status observed, 0 when the last request
	// failed before a response arrived.
	StatusCode int
	// Text is what the Display shows at the end.
	Text string
	// Location is the navigation target of a finished job, resolved against
	// the status URL.
	Location string
	// Ticks counts the status polls issued.
	Ticks int
	// Err explains transport, protocol or navigation failures.
	Err error
}

// Succeeded reports whether the job finished with "done".
func (o Outcome) Succeeded() bool {
	return o.State == StateDone
}

// Session follows one submitted job to its terminal state.
type Session struct {
	id        uuid.UUID
	interval  time.Duration
	transport Transport
	display   Display
	navigator Navigator
	clock     clock.Clock
	emitter   progress.Emitter
	logger    *zap.Logger

	started atomic.Bool
	done    chan struct{}

	mu      sync.Mutex
	state   State
	outcome Outcome
}

// New validates deps and returns an idle Session.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Transport == nil {
		return nil, errors.New("poller: transport is required")
	}
	if deps.Display == nil {
		return nil, errors.New("poller: display is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	clk := deps.Clock
	if clk == nil {
		clk = system.New()
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = progress.Discard
	}
	sessionID := id.New()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:        sessionID,
		interval:  interval,
		transport: deps.Transport,
		display:   deps.Display,
		navigator: deps.Navigator,
		clock:     clk,
		emitter:   emitter,
		logger:    logger.With(zap.Stringer("session_id", sessionID)),
		done:      make(chan struct{}),
		state:     StateIdle,
	}, nil
}

// ID identifies the session in logs and progress events.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the live state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Outcome returns the terminal result. Before Done is closed it returns the
// zero Outcome with the live state.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		return Outcome{State: s.state}
	}
	return s.outcome
}

// Start submits req and follows the job in a background goroutine. Canceling
// ctx stops the session in StateCanceled without touching the display.
func (s *Session) Start(ctx context.Context, req transport.Request) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go s.run(ctx, req)
	return nil
}

// Wait blocks until the session finishes or ctx ends.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.Outcome(), nil
	case <-ctx.Done():
		return Outcome{State: s.State()}, fmt.Errorf("wait for session: %w", ctx.Err())
	}
}

// Run submits req and blocks until the session finishes. The returned error
// is non-nil only when the session could not run to a job outcome: it was
// already started or ctx was canceled.
func (s *Session) Run(ctx context.Context, req transport.Request) (Outcome, error) {
	if err := s.Start(ctx, req); err != nil {
		return Outcome{}, err
	}
	<-s.done
	out := s.Outcome()
	if out.State == StateCanceled {
		return out, fmt.Errorf("poll session canceled: %w", out.Err)
	}
	return out, nil
}

func (s *Session) run(ctx context.Context, req transport.Request) {
	started := s.clock.Now()
	s.setState(StateSubmitted)
	s.emit(progress.Event{Stage: progress.StageSubmit, URL: req.URL, Percent: progress.PercentUnknown})
	s.logger.Debug("submitting job", zap.String("method", req.Method), zap.String("url", req.URL))

	out := s.submit(ctx, req)
	if out.State == StatePolling {
		out = s.poll(ctx, out.Location)
	}
	s.finish(ctx, out, started)
}

// submit issues the submission request and returns either a terminal Outcome
// or a StatePolling Outcome whose Location is the status URL.
func (s *Session) submit(ctx context.Context, req transport.Request) Outcome {
	resp, err := s.transport.Do(ctx, req)
	if ctx.Err() != nil {
		return Outcome{State: StateCanceled, Err: ctx.Err()}
	}
	if err != nil {
		return errorOutcome(0, 0, err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return errorOutcome(resp.StatusCode, 0, nil)
	}
	location := resp.Location()
	if location == "" {
		return errorOutcome(resp.StatusCode, 0, ErrMissingLocation)
	}
	statusURL, err := resolve(req.URL, location)
	if err != nil {
		return errorOutcome(resp.StatusCode, 0, err)
	}

	s.emit(progress.Event{
		Stage:       progress.StageAccepted,
		URL:         statusURL,
		StatusCode:  resp.StatusCode,
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Percent:     progress.PercentUnknown,
	})
	s.logger.Debug("job accepted", zap.String("status_url", statusURL))
	s.setState(StatePolling)
	return Outcome{State: StatePolling, StatusCode: resp.StatusCode, Location: statusURL}
}

// poll owns the session's only ticker. Ticks are serialized: the next one is
// not read until the current status request has been handled, and ticks that
// fire meanwhile are coalesced by the ticker.
func (s *Session) poll(ctx context.Context, statusURL string) Outcome {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return Outcome{State: StateCanceled, Ticks: ticks, Err: ctx.Err()}
		case <-ticker.C():
		}

		ticks++
		tickStart := s.clock.Now()
		resp, err := s.transport.Do(ctx, transport.NewGet(statusURL))
		if ctx.Err() != nil {
			return Outcome{State: StateCanceled, Ticks: ticks, Err: ctx.Err()}
		}
		tick := progress.Event{
			Stage:   progress.StageTick,
			URL:     statusURL,
			Percent: progress.PercentUnknown,
			Dur:     nonNegative(s.clock.Now().Sub(tickStart)),
		}
		if err != nil {
			tick.StatusClass = progress.ClassifyStatus(0)
			s.emit(tick)
			return errorOutcome(0, ticks, err)
		}
		tick.StatusCode = resp.StatusCode
		tick.StatusClass = progress.ClassifyStatus(resp.StatusCode)

		if resp.StatusCode != http.StatusOK {
			s.emit(tick)
			return errorOutcome(resp.StatusCode, ticks, nil)
		}

		body := resp.Text()
		if body == DoneBody {
			tick.Percent = 100
			s.emit(tick)
			out := Outcome{State: StateDone, StatusCode: resp.StatusCode, Text: DoneBody, Ticks: ticks}
			if location := resp.Location(); location != "" {
				target, err := resolve(statusURL, location)
				if err != nil {
					out.Err = err
				} else {
					out.Location = target
				}
			}
			return out
		}

		tick.Percent = parsePercent(body)
		tick.Note = body
		s.emit(tick)
		s.display.SetText(body + "%")
	}
}

func (s *Session) finish(ctx context.Context, out Outcome, started time.Time) {
	stage := progress.StageCanceled
	switch out.State {
	case StateDone:
		stage = progress.StageDone
		s.display.SetText(out.Text)
		if out.Location != "" && s.navigator != nil {
			if err := s.navigator.Navigate(ctx, out.Location); err != nil {
				out.Err = fmt.Errorf("navigate to %s: %w", out.Location, err)
				s.logger.Warn("navigation failed", zap.String("location", out.Location), zap.Error(err))
			}
		}
	case StateError:
		stage = progress.StageError
		s.display.SetText(out.Text)
	}

	s.mu.Lock()
	s.state = out.State
	s.outcome = out
	s.mu.Unlock()

	evt := progress.Event{
		Stage:      stage,
		URL:        out.Location,
		StatusCode: out.StatusCode,
		Percent:    progress.PercentUnknown,
		Dur:        nonNegative(s.clock.Now().Sub(started)),
		Note:       out.Text,
	}
	if stage != progress.StageCanceled {
		evt.StatusClass = progress.ClassifyStatus(out.StatusCode)
	}
	s.emit(evt)

	fields := []zap.Field{
		zap.Stringer("state", out.State),
		zap.Int("status", out.StatusCode),
		zap.Int("ticks", out.Ticks),
		zap.String("text", out.Text),
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	}
	s.logger.Info("poll session finished", fields...)
	close(s.done)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) emit(evt progress.Event) {
	evt.SessionID = progress.UUIDToBytes(s.id)
	evt.TS = s.clock.Now()
	s.emitter.Emit(evt)
}

func errorOutcome(status, ticks int, err error) Outcome {
	return Outcome{
		State:      StateError,
		StatusCode: status,
		Text:       ErrorText(status),
		Ticks:      ticks,
		Err:        err,
	}
}

// ErrorText renders the display text for a failed request. A request that got
// no response at all is reported with status 0.
func ErrorText(status int) string {
	return "Error " + strconv.Itoa(status)
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", base, err)
	}
	target, err := b.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse location %q: %w", ref, err)
	}
	return target.String(), nil
}

func parsePercent(body string) int {
	n, err := strconv.Atoi(body)
	if err != nil || n < 0 || n > 100 {
		return progress.PercentUnknown
	}
	return n
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
