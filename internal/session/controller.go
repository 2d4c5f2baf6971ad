package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/franckalain/pockettrainer/internal/capture"
	"github.com/franckalain/pockettrainer/internal/database"
	"github.com/franckalain/pockettrainer/internal/metrics"
	"github.com/franckalain/pockettrainer/internal/ml"
	"github.com/franckalain/pockettrainer/internal/models"
)

// storeTimeout bounds the record write that follows a successful analysis.
const storeTimeout = 10 * time.Second

// Analyzer runs requests against the provider. *ml.Client implements it.
type Analyzer interface {
	Send(ctx context.Context, req ml.Request) ml.Outcome
	SendText(ctx context.Context, req ml.Request) ml.Outcome
	Detect(ctx context.Context, req ml.Request) (string, ml.Outcome)
}

// ImageTransport selects how photos reach the provider.
type ImageTransport string

const (
	TransportInline ImageTransport = "inline"
	TransportURL    ImageTransport = "url"
)

// Settings are the per-deployment pipeline switches.
type Settings struct {
	// DetectFirst runs the single-image detection pass before the measurement call.
	DetectFirst bool
	// WorkoutPlan requests a narrative plan after a successful measurement.
	WorkoutPlan bool
	// Location decides which calendar day "today" is for users without their own zone.
	Location       *time.Location
	ImageTransport ImageTransport
	Timer          int
}

// Option configures a Controller.
type Option func(*Controller)

func WithSettings(s Settings) Option {
	return func(c *Controller) { c.settings = s }
}

// WithBlobStore enables URL image transport.
func WithBlobStore(b database.BlobStore) Option {
	return func(c *Controller) { c.blobs = b }
}

// WithProfiles lets the workout plan use the user's onboarding answers.
func WithProfiles(p database.ProfileStore) Option {
	return func(c *Controller) { c.profiles = p }
}

func WithMetrics(m *metrics.Manager) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

func WithBuilder(b *ml.Builder) Option {
	return func(c *Controller) { c.builder = b }
}

// WithCountdownClock replaces time.After for capture countdowns.
func WithCountdownClock(after func(time.Duration) <-chan time.Time) Option {
	return func(c *Controller) { c.after = after }
}

// WithNow replaces time.Now for date keys.
func WithNow(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

type commandKind int

const (
	cmdCapture commandKind = iota
	cmdSetTimer
	cmdCancel
	cmdRetry
)

type command struct {
	kind    commandKind
	seconds int
	reply   chan error
}

type resultKind int

const (
	resCapture resultKind = iota
	resAnalysis
)

// result is what a worker posts back to the event loop.
type result struct {
	kind resultKind
	gen  uint64
	err  error

	outcome  ml.Outcome
	plan     string
	findings string
	took     time.Duration
}

// Controller supervises one user's capture session and its analysis pipeline.
// Every state change happens on the event loop goroutine; capture countdowns and
// provider calls run on workers that post their result back tagged with the
// generation they started in.
type Controller struct {
	sc       Context
	source   capture.Source
	analyzer Analyzer
	builder  *ml.Builder
	store    database.RecordStore
	blobs    database.BlobStore
	profiles database.ProfileStore
	metrics  *metrics.Manager
	settings Settings
	log      zerolog.Logger
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time

	session *capture.Session

	cmds     chan command
	results  chan result
	events   chan Event
	outcomes chan Outcome

	// owned by the event loop
	gen       uint64
	capturing bool
	analyzing bool

	started  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
	workers  sync.WaitGroup
}

// NewController builds a controller for the signed-in user. Start runs it.
func NewController(sc Context, source capture.Source, analyzer Analyzer, store database.RecordStore, opts ...Option) (*Controller, error) {
	if err := sc.validate(); err != nil {
		return nil, err
	}
	if source == nil || analyzer == nil || store == nil {
		return nil, errors.New("controller needs a source, an analyzer and a record store")
	}
	c := &Controller{
		sc:       sc,
		source:   source,
		analyzer: analyzer,
		store:    store,
		log:      zerolog.Nop(),
		now:      time.Now,
		after:    time.After,
		settings: Settings{ImageTransport: TransportInline},
		cmds:     make(chan command),
		results:  make(chan result),
		events:   make(chan Event, 32),
		outcomes: make(chan Outcome, 4),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.builder == nil {
		c.builder = ml.NewBuilder(ml.BuilderConfig{})
	}
	if c.metrics == nil {
		c.metrics = metrics.NewManager("pockettrainer", "session", prometheus.NewRegistry())
	}
	if c.settings.Location == nil {
		c.settings.Location = time.Local
	}
	if c.settings.ImageTransport == "" {
		c.settings.ImageTransport = TransportInline
	}
	if c.settings.ImageTransport == TransportURL && c.blobs == nil {
		return nil, errors.New("url image transport needs a blob store")
	}
	c.log = c.log.With().Str("user", sc.UserID).Logger()

	c.session = capture.NewSession(source,
		capture.WithTimer(c.settings.Timer),
		capture.WithClock(c.after),
		capture.WithLogger(c.log),
		capture.WithHooks(capture.Hooks{
			OnTick: func(angle string, remaining int) {
				c.emit(Event{Kind: EventCountdown, Angle: angle, Remaining: remaining})
			},
			OnShot: func(index int, angle string, img []byte, placeholder bool) {
				c.metrics.CounterShots.WithLabelValues(angle).Inc()
				if placeholder {
					c.metrics.CounterImageUnavailable.Inc()
				}
				c.emit(Event{
					Kind:        EventShotCaptured,
					Angle:       angle,
					Index:       index,
					Taken:       index + 1,
					Total:       len(capture.Angles),
					Placeholder: placeholder,
					Preview:     img,
				})
			},
		}),
	)
	return c, nil
}

// Context returns the session context the controller was built with.
func (c *Controller) Context() Context { return c.sc }

// Events delivers progress events. Slow readers miss events rather than stall capture.
func (c *Controller) Events() <-chan Event { return c.events }

// Outcomes delivers one value per completed capture set.
func (c *Controller) Outcomes() <-chan Outcome { return c.outcomes }

// Progress returns the capture session snapshot.
func (c *Controller) Progress() capture.Progress { return c.session.Progress() }

// Start launches the event loop. Both channels are closed once the loop exits.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("controller already started")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.metrics.GaugeActiveSessions.Inc()
	go c.loop(ctx)
	return nil
}

// Stop cancels pending work and waits for the event loop to exit.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		if !c.started.Load() {
			return
		}
		c.cancel()
		<-c.done
		c.metrics.GaugeActiveSessions.Dec()
	})
}

// Capture starts the countdown for the next angle.
func (c *Controller) Capture() error { return c.do(command{kind: cmdCapture}) }

// SetTimer changes the countdown delay.
func (c *Controller) SetTimer(seconds int) error {
	return c.do(command{kind: cmdSetTimer, seconds: seconds})
}

// Cancel drops the shots taken so far and discards any in-flight analysis.
func (c *Controller) Cancel() error { return c.do(command{kind: cmdCancel}) }

// Retry returns a session to a fresh idle state after a retake prompt.
func (c *Controller) Retry() error { return c.do(command{kind: cmdRetry}) }

func (c *Controller) do(cmd command) error {
	if !c.started.Load() {
		return fmt.Errorf("%w: not started", ErrStopped)
	}
	cmd.reply = make(chan error, 1)
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrStopped
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrStopped
	}
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)
	c.log.Debug().Msg("Session controller started")
	for {
		select {
		case <-ctx.Done():
			c.session.Cancel()
			c.workers.Wait()
			close(c.events)
			close(c.outcomes)
			c.log.Debug().Msg("Session controller stopped")
			return
		case cmd := <-c.cmds:
			cmd.reply <- c.handle(ctx, cmd)
		case res := <-c.results:
			c.handleResult(ctx, res)
		}
	}
}

func (c *Controller) handle(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdCapture:
		return c.startCapture(ctx)
	case cmdSetTimer:
		if c.analyzing {
			return ErrAnalyzing
		}
		return c.session.SetTimer(cmd.seconds)
	case cmdCancel:
		c.invalidate()
		c.session.Cancel()
		c.emit(Event{Kind: EventReset, Total: len(capture.Angles)})
		return nil
	case cmdRetry:
		c.invalidate()
		c.session.Reset()
		c.emit(Event{Kind: EventReset, Total: len(capture.Angles)})
		return nil
	default:
		return fmt.Errorf("unknown command %d", cmd.kind)
	}
}

// invalidate makes every in-flight worker result stale.
func (c *Controller) invalidate() {
	c.gen++
	c.capturing = false
	c.analyzing = false
}

func (c *Controller) startCapture(ctx context.Context) error {
	if c.analyzing {
		return ErrAnalyzing
	}
	if c.capturing {
		return capture.ErrBusy
	}
	if c.session.State() == capture.StateComplete {
		return capture.ErrComplete
	}
	index := c.session.NextAngle()
	gen := c.gen
	c.capturing = true

	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		err := c.session.BeginCapture(ctx, index)
		c.post(ctx, result{kind: resCapture, gen: gen, err: err})
	}()
	return nil
}

func (c *Controller) post(ctx context.Context, res result) {
	select {
	case c.results <- res:
	case <-ctx.Done():
	}
}

func (c *Controller) handleResult(ctx context.Context, res result) {
	if res.gen != c.gen {
		c.log.Debug().Uint64("gen", res.gen).Uint64("current", c.gen).Msg("Discarding stale result")
		return
	}
	switch res.kind {
	case resCapture:
		c.capturing = false
		if res.err != nil {
			if !errors.Is(res.err, capture.ErrCancelled) && !errors.Is(res.err, context.Canceled) {
				c.log.Warn().Err(res.err).Msg("Capture failed")
			}
			return
		}
		if c.session.Complete() {
			c.startAnalysis(ctx)
		}
	case resAnalysis:
		c.analyzing = false
		c.finishAnalysis(ctx, res)
	}
}

func (c *Controller) startAnalysis(ctx context.Context) {
	shots, err := c.session.TakeShots()
	if err != nil {
		c.log.Error().Err(err).Msg("Could not take shots from a complete session")
		return
	}
	c.analyzing = true
	gen := c.gen
	c.emit(Event{Kind: EventAnalyzing, Taken: len(shots), Total: len(shots)})

	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		res := c.analyze(ctx, shots)
		res.kind = resAnalysis
		res.gen = gen
		c.post(ctx, res)
	}()
}

// analyze runs the network stages in order: detection, upload, measurement, plan.
func (c *Controller) analyze(ctx context.Context, shots [][]byte) result {
	start := time.Now()
	var res result

	if c.settings.DetectFirst {
		findings, out := c.analyzer.Detect(ctx, c.builder.BuildVisionRequest(shots[0]))
		if out.OK() {
			res.findings = findings
		} else {
			c.log.Warn().Str("outcome", out.String()).Msg("Detection pass failed, continuing with images")
		}
	}

	req, err := c.builder.BuildMeasurementRequest(c.measurementInput(ctx, shots, res.findings), "")
	if err != nil {
		res.outcome = ml.TransportFailure(err)
		res.took = time.Since(start)
		return res
	}
	res.outcome = c.analyzer.Send(ctx, req)

	if res.outcome.OK() && c.settings.WorkoutPlan {
		basis := res.findings
		if basis == "" {
			basis = res.outcome.Text
		}
		planReq, err := c.builder.BuildMeasurementRequest(ml.MeasurementInput{Findings: basis}, c.builder.BuildWorkoutPlanPrompt(basis, c.profile(ctx)))
		if err == nil {
			plan := c.analyzer.SendText(ctx, planReq)
			if plan.OK() {
				res.plan = plan.Text
			} else {
				c.log.Warn().Str("outcome", plan.String()).Msg("Workout plan request failed")
			}
		}
	}
	res.took = time.Since(start)
	return res
}

// profile returns the user's onboarding answers, or nil when there are none.
func (c *Controller) profile(ctx context.Context) *models.Profile {
	if c.profiles == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	p, found, err := c.profiles.GetProfile(ctx, c.sc.UserID)
	if err != nil {
		c.log.Warn().Err(err).Str("path", database.ProfilePath(c.sc.UserID)).Msg("Failed to read profile, planning without it")
		return nil
	}
	if !found {
		return nil
	}
	return p
}

// measurementInput prefers the photos and falls back to the findings text when the
// photos cannot be used.
func (c *Controller) measurementInput(ctx context.Context, shots [][]byte, findings string) ml.MeasurementInput {
	fallback := ml.MeasurementInput{Findings: findings}
	if findings != "" && allPlaceholders(shots) {
		c.log.Warn().Msg("Every shot is a placeholder, using detection findings")
		return fallback
	}
	if c.settings.ImageTransport != TransportURL {
		return ml.MeasurementInput{Images: shots}
	}
	urls, err := c.upload(ctx, shots)
	if err != nil {
		c.log.Warn().Err(err).Msg("Photo upload failed, using detection findings")
		return fallback
	}
	return ml.MeasurementInput{ImageURLs: urls}
}

func (c *Controller) upload(ctx context.Context, shots [][]byte) ([]string, error) {
	urls := make([]string, len(shots))
	g, gctx := errgroup.WithContext(ctx)
	for i, shot := range shots {
		g.Go(func() error {
			url, err := c.blobs.Store(gctx, shot)
			if err != nil {
				return fmt.Errorf("upload %s: %w", capture.Angles[i], err)
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

func allPlaceholders(shots [][]byte) bool {
	for _, shot := range shots {
		if !capture.IsPlaceholder(shot) {
			return false
		}
	}
	return true
}

func (c *Controller) finishAnalysis(ctx context.Context, res result) {
	out := res.outcome
	c.metrics.HistAnalysisDuration.WithLabelValues(out.Kind.String()).Observe(res.took.Seconds())
	c.session.Reset()

	if !out.OK() {
		c.log.Info().Str("outcome", out.String()).Dur("took", res.took).Msg("Analysis needs new photos")
		c.metrics.CounterOutcomes.WithLabelValues(OutcomeRetakePhotos.String()).Inc()
		c.deliver(ctx, retakeOutcome())
		return
	}

	dateKey := c.sc.Today(c.now(), c.settings.Location)
	stored := true
	putCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	err := c.store.Put(putCtx, c.sc.UserID, dateKey, out.Record)
	cancel()
	if err != nil {
		stored = false
		c.metrics.CounterStorageFailures.Inc()
		c.log.Error().Err(err).Str("path", database.RecordPath(c.sc.UserID, dateKey)).Msg("Failed to store measurement record")
	}

	message := res.plan
	if message == "" {
		message = out.Text
	}
	c.log.Info().
		Int("fields", out.Record.Len()).
		Str("date", dateKey).
		Bool("stored", stored).
		Dur("took", res.took).
		Msg("Analysis succeeded")
	c.metrics.CounterOutcomes.WithLabelValues(OutcomeSuccess.String()).Inc()
	c.deliver(ctx, successOutcome(out.Record, dateKey, message, stored))
}

func (c *Controller) deliver(ctx context.Context, o Outcome) {
	select {
	case c.outcomes <- o:
	case <-ctx.Done():
	}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Debug().Str("event", ev.Kind.String()).Msg("Event dropped, reader is behind")
	}
}
