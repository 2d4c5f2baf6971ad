package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/franckalain/pockettrainer/internal/capture"
	"github.com/franckalain/pockettrainer/internal/database"
	"github.com/franckalain/pockettrainer/internal/metrics"
	"github.com/franckalain/pockettrainer/internal/ml"
	"github.com/franckalain/pockettrainer/internal/models"
	"github.com/franckalain/pockettrainer/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, this should be more restrictive
	},
}

// DefaultFrameTimeout bounds the wait for a frame after a capture_request.
const DefaultFrameTimeout = 10 * time.Second

type Server struct {
	db       database.DB
	analyzer session.Analyzer
	builder  *ml.Builder
	metrics  *metrics.Manager
	gatherer prometheus.Gatherer
	log      zerolog.Logger

	settings     session.Settings
	frameTimeout time.Duration
	staticDir    string
	debug        bool
	now          func() time.Time

	clients sync.Map
}

// Option configures a Server.
type Option func(*Server)

func WithSessionSettings(s session.Settings) Option {
	return func(srv *Server) { srv.settings = s }
}

func WithFrameTimeout(d time.Duration) Option {
	return func(srv *Server) { srv.frameTimeout = d }
}

// WithMetrics sets the metrics manager and the registry served at /metrics.
func WithMetrics(m *metrics.Manager, gatherer prometheus.Gatherer) Option {
	return func(srv *Server) {
		srv.metrics = m
		srv.gatherer = gatherer
	}
}

func WithBuilder(b *ml.Builder) Option {
	return func(srv *Server) { srv.builder = b }
}

func WithLogger(log zerolog.Logger) Option {
	return func(srv *Server) { srv.log = log }
}

func WithStaticDir(dir string) Option {
	return func(srv *Server) { srv.staticDir = dir }
}

func WithDebug(debug bool) Option {
	return func(srv *Server) { srv.debug = debug }
}

func WithNow(now func() time.Time) Option {
	return func(srv *Server) { srv.now = now }
}

func New(db database.DB, analyzer session.Analyzer, opts ...Option) *Server {
	s := &Server{
		db:           db,
		analyzer:     analyzer,
		log:          zerolog.Nop(),
		frameTimeout: DefaultFrameTimeout,
		staticDir:    "./static",
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.builder == nil {
		s.builder = ml.NewBuilder(ml.BuilderConfig{})
	}
	if s.metrics == nil {
		reg := prometheus.NewRegistry()
		s.metrics = metrics.NewManager("pockettrainer", "server", reg)
		s.gatherer = reg
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.settings.Location == nil {
		s.settings.Location = time.Local
	}
	if s.debug {
		s.log.Debug().Msg("Debug logging enabled")
	}
	return s
}

// Router returns the HTTP routes of the service.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/blobs/{key:.*}", s.handleBlob).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{user}/progress/{date}", s.handleGetProgress).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{user}/progress", s.handleListProgress).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{user}/profile", s.handleGetProfile).Methods(http.MethodGet)

	// Serve static files
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	return r
}

// Start serves on port until SIGINT/SIGTERM or ctx is done, then shuts down.
func (s *Server) Start(ctx context.Context, port string) error {
	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("port", port).Msg("Starting server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	s.clients.Range(func(_, value any) bool {
		value.(*clientConn).close()
		return true
	})
	return err
}

// clientConn is one connected phone. gorilla/websocket allows a single concurrent
// writer, so every write goes through writeMu.
type clientConn struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
	log     zerolog.Logger

	camera *clientCamera

	mu      sync.Mutex
	ctrl    *session.Controller
	forward sync.WaitGroup
}

func (c *clientConn) controller() *session.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctrl
}

// signOut stops the controller and waits for its forwarder.
func (c *clientConn) signOut() {
	c.mu.Lock()
	ctrl := c.ctrl
	c.ctrl = nil
	c.mu.Unlock()
	if ctrl != nil {
		ctrl.Stop()
	}
	c.forward.Wait()
}

func (c *clientConn) close() {
	c.signOut()
	_ = c.ws.Close()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	// Store client connection
	client := &clientConn{id: uuid.New().String(), ws: ws}
	client.log = s.log.With().Str("client", client.id).Logger()
	client.camera = newClientCamera(func(data any) error {
		return s.sendMessage(client, "capture_request", data)
	}, s.frameTimeout)
	s.clients.Store(client.id, client)
	defer s.clients.Delete(client.id)
	defer client.close()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				client.log.Debug().Err(err).Msg("Error reading message")
			}
			break
		}

		// Parse message
		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			client.log.Warn().Err(err).Msg("Error parsing message")
			s.sendError(client, "Invalid message format")
			continue
		}

		s.handleWebSocketMessage(r.Context(), client, msg)
	}
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (m inbound) decode(v any) error {
	if len(m.Data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(m.Data, v)
}

func (s *Server) handleWebSocketMessage(ctx context.Context, client *clientConn, msg inbound) {
	if msg.Type == "" {
		s.sendError(client, "Invalid message format")
		return
	}
	s.metrics.CounterWSMessages.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case "sign_in":
		s.handleSignIn(ctx, client, msg)
	case "sign_out":
		client.signOut()
	case "frame":
		s.handleFrame(client, msg)
	case "get_progress":
		s.handleWSProgress(ctx, client, msg)
	case "set_profile", "get_profile":
		s.handleWSProfile(ctx, client, msg)
	case "set_timer", "capture", "cancel", "retry":
		s.handleSessionCommand(client, msg)
	default:
		s.sendError(client, "Unknown message type")
	}
}

func (s *Server) handleSignIn(ctx context.Context, client *clientConn, msg inbound) {
	var data struct {
		UserID   string `json:"user_id"`
		Timezone string `json:"timezone"`
	}
	if err := msg.decode(&data); err != nil || data.UserID == "" {
		s.sendError(client, "Missing user id")
		return
	}
	sc, err := session.NewContext(data.UserID, data.Timezone)
	if err != nil {
		s.sendError(client, "Invalid timezone")
		return
	}

	// A second sign-in replaces the previous session.
	client.signOut()

	ctrl, err := session.NewController(
		sc,
		client.camera,
		s.analyzer,
		s.db,
		session.WithSettings(s.settings),
		session.WithBlobStore(s.db),
		session.WithProfiles(s.db),
		session.WithBuilder(s.builder),
		session.WithMetrics(s.metrics),
		session.WithLogger(client.log),
		session.WithNow(s.now),
	)
	if err != nil {
		client.log.Error().Err(err).Msg("Failed to create session")
		s.sendError(client, "Failed to start session")
		return
	}
	client.camera.setNext(func() string { return ctrl.Progress().NextAngle })
	// The controller outlives this request's handler call but not the socket.
	if err := ctrl.Start(context.WithoutCancel(ctx)); err != nil {
		s.sendError(client, "Failed to start session")
		return
	}

	client.mu.Lock()
	client.ctrl = ctrl
	client.mu.Unlock()

	client.forward.Add(1)
	go func() {
		defer client.forward.Done()
		s.forward(client, ctrl)
	}()

	client.log.Info().Str("user", data.UserID).Msg("User signed in")
	_ = s.sendMessage(client, "progress", progressPayload(ctrl.Progress()))
}

func (s *Server) handleSessionCommand(client *clientConn, msg inbound) {
	ctrl := client.controller()
	if ctrl == nil {
		s.sendError(client, "Sign in first")
		return
	}

	var err error
	switch msg.Type {
	case "set_timer":
		var data struct {
			Seconds int `json:"seconds"`
		}
		if err := msg.decode(&data); err != nil {
			s.sendError(client, "Invalid timer value")
			return
		}
		err = ctrl.SetTimer(data.Seconds)
		if err == nil {
			_ = s.sendMessage(client, "progress", progressPayload(ctrl.Progress()))
		}
	case "capture":
		err = ctrl.Capture()
	case "cancel":
		err = ctrl.Cancel()
	case "retry":
		err = ctrl.Retry()
	}
	if err != nil {
		client.log.Debug().Err(err).Str("type", msg.Type).Msg("Session command rejected")
		s.sendError(client, err.Error())
	}
}

func (s *Server) handleFrame(client *clientConn, msg inbound) {
	var data struct {
		Seq   uint64 `json:"seq"`
		Image string `json:"image"`
	}
	if err := msg.decode(&data); err != nil {
		s.sendError(client, "Invalid image data")
		client.camera.deliver(0, nil)
		return
	}

	// Decode base64 image
	imageData, err := base64.StdEncoding.DecodeString(data.Image)
	if err != nil {
		client.log.Warn().Err(err).Msg("Error decoding image")
		s.sendError(client, "Invalid image format")
		client.camera.deliver(data.Seq, nil)
		return
	}
	if !client.camera.deliver(data.Seq, imageData) {
		client.log.Debug().Uint64("seq", data.Seq).Msg("Dropping frame with no matching capture request")
	}
}

func (s *Server) handleWSProgress(ctx context.Context, client *clientConn, msg inbound) {
	ctrl := client.controller()
	if ctrl == nil {
		s.sendError(client, "Sign in first")
		return
	}
	var data struct {
		Date string `json:"date"`
	}
	_ = msg.decode(&data)
	if data.Date == "" || data.Date == "today" {
		data.Date = ctrl.Context().Today(s.now(), s.settings.Location)
	}

	rec, found, err := s.db.Get(ctx, ctrl.Context().UserID, data.Date)
	if err != nil {
		if errors.Is(err, database.ErrInvalidKey) {
			s.sendError(client, "Invalid date")
			return
		}
		client.log.Error().Err(err).Msg("Error retrieving progress")
		s.sendError(client, "Failed to retrieve progress")
		return
	}
	_ = s.sendMessage(client, "progress_record", recordPayload(data.Date, rec, found))
}

// forward relays controller events and outcomes to the socket until the
// controller stops.
func (s *Server) forward(client *clientConn, ctrl *session.Controller) {
	events, outcomes := ctrl.Events(), ctrl.Outcomes()
	for events != nil || outcomes != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.sendEvent(client, ctrl, ev)
		case out, ok := <-outcomes:
			if !ok {
				outcomes = nil
				continue
			}
			s.sendOutcome(client, out)
		}
	}
}

func (s *Server) sendEvent(client *clientConn, ctrl *session.Controller, ev session.Event) {
	switch ev.Kind {
	case session.EventCountdown:
		_ = s.sendMessage(client, "countdown", map[string]any{
			"angle":     ev.Angle,
			"remaining": ev.Remaining,
		})
	case session.EventShotCaptured:
		_ = s.sendMessage(client, "shot_captured", map[string]any{
			"index":       ev.Index,
			"angle":       ev.Angle,
			"taken":       ev.Taken,
			"total":       ev.Total,
			"placeholder": ev.Placeholder,
			"preview":     base64.StdEncoding.EncodeToString(ev.Preview),
		})
	case session.EventAnalyzing:
		_ = s.sendMessage(client, "analyzing", map[string]any{"total": ev.Total})
	case session.EventReset:
		_ = s.sendMessage(client, "progress", progressPayload(ctrl.Progress()))
	}
}

func (s *Server) sendOutcome(client *clientConn, out session.Outcome) {
	switch out.Kind {
	case session.OutcomeSuccess:
		_ = s.sendMessage(client, "result", map[string]any{
			"title":   out.Title,
			"message": out.Message,
			"date":    out.DateKey,
			"stored":  out.Stored,
			"record":  out.Record.Fields(),
		})
	default:
		_ = s.sendMessage(client, "retake", map[string]any{
			"title":   out.Title,
			"message": out.Message,
		})
	}
}

func progressPayload(p capture.Progress) map[string]any {
	return map[string]any{
		"state":       p.StateName,
		"taken":       p.Taken,
		"total":       p.Total,
		"next_angle":  p.NextAngle,
		"countdown":   p.Countdown,
		"timer_delay": p.TimerDelay,
	}
}

// handleWSProfile stores the onboarding answers (set_profile) or reads them back
// (get_profile). Both reply with a profile message.
func (s *Server) handleWSProfile(ctx context.Context, client *clientConn, msg inbound) {
	ctrl := client.controller()
	if ctrl == nil {
		s.sendError(client, "Sign in first")
		return
	}
	userID := ctrl.Context().UserID

	if msg.Type == "set_profile" {
		var data struct {
			WorkoutDays int    `json:"workout_days"`
			WeightGoal  string `json:"weight_goal"`
		}
		if err := msg.decode(&data); err != nil {
			s.sendError(client, "Invalid profile")
			return
		}
		profile := &models.Profile{WorkoutDays: data.WorkoutDays, WeightGoal: data.WeightGoal}
		if err := profile.Validate(); err != nil {
			s.sendError(client, err.Error())
			return
		}
		if err := s.db.PutProfile(ctx, userID, profile); err != nil {
			client.log.Error().Err(err).Str("path", database.ProfilePath(userID)).Msg("Error saving profile")
			s.sendError(client, "Failed to save profile")
			return
		}
	}

	profile, found, err := s.db.GetProfile(ctx, userID)
	if err != nil {
		client.log.Error().Err(err).Msg("Error retrieving profile")
		s.sendError(client, "Failed to retrieve profile")
		return
	}
	payload := map[string]any{"found": found}
	if found {
		payload["profile"] = profile
	}
	_ = s.sendMessage(client, "profile", payload)
}

func recordPayload(dateKey string, rec *models.MeasurementRecord, found bool) map[string]any {
	payload := map[string]any{"date": dateKey, "found": found}
	if found {
		payload["record"] = rec.Fields()
	}
	return payload
}

func (s *Server) sendMessage(client *clientConn, messageType string, data any) error {
	msg := map[string]any{
		"type": messageType,
		"data": data,
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	if err := client.ws.WriteJSON(msg); err != nil {
		client.log.Warn().Err(err).Str("type", messageType).Msg("Error sending message")
		return err
	}
	if s.debug {
		client.log.Debug().Str("type", messageType).Msg("Message sent")
	}
	return nil
}

func (s *Server) sendError(client *clientConn, message string) {
	_ = s.sendMessage(client, "error", map[string]string{"message": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
