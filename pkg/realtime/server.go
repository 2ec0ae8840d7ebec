package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/config"
	"github.com/platinummonkey/ptbhub/pkg/httputil"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// Frame types shared by every consumer
const (
	TypeAuthenticate  = "authenticate"
	TypeAuthenticated = "authenticated"
	TypeError         = "error"
)

// Error frame messages
const (
	ErrRateLimited    = "Rate limit exceeded"
	ErrAuthRequired   = "Authentication required"
	ErrAuthFailed     = "Authentication failed"
	ErrInvalidJSON    = "Invalid JSON"
	ErrUnknownType    = "Unknown message type"
	ErrInternal       = "Internal error"
	errMissingTypeMsg = "Message type is required"
)

// Authenticator resolves a token to a principal
type Authenticator interface {
	Authenticate(ctx context.Context, cred auth.Credentials) (*auth.Result, error)
}

// Message is one decoded inbound frame
type Message struct {
	Type string
	Raw  json.RawMessage
}

// Decode unmarshals the full frame into v. Type mismatches surface as
// validation errors.
func (m Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return apperrors.FieldError(typeErr.Field, "invalid type, expected "+typeErr.Type.String())
		}
		return apperrors.Invalid(ErrInvalidJSON)
	}
	return nil
}

// Consumer handles one WebSocket channel
type Consumer interface {
	Name() string
	// Connect runs once the session is authenticated
	Connect(ctx context.Context, s *Session) error
	Receive(ctx context.Context, s *Session, msg Message) error
	// Disconnect runs on close for sessions that connected
	Disconnect(ctx context.Context, s *Session)
}

// Session is one authenticated-or-pending connection as seen by a consumer
type Session struct {
	Principal auth.Principal
	Vars      map[string]string

	client *Client
	hub    *Hub
	groups map[string]struct{}
	values map[string]interface{}
}

// Join adds the connection to a group
func (s *Session) Join(group string) {
	s.hub.Join(group, s.client)
	s.groups[group] = struct{}{}
}

// Leave removes the connection from a group
func (s *Session) Leave(group string) {
	s.hub.Leave(group, s.client)
	delete(s.groups, group)
}

func (s *Session) leaveAll() {
	for g := range s.groups {
		s.hub.Leave(g, s.client)
	}
	s.groups = map[string]struct{}{}
}

// Send writes frame to this connection only
func (s *Session) Send(frame interface{}) error {
	return s.client.SendJSON(frame)
}

// Broadcast sends frame to every member of group, this connection included
func (s *Session) Broadcast(ctx context.Context, group string, frame interface{}) error {
	return s.hub.SendGroup(ctx, group, frame)
}

// Set stores consumer-private state on the session
func (s *Session) Set(key string, v interface{}) {
	s.values[key] = v
}

// Get returns consumer-private state
func (s *Session) Get(key string) interface{} {
	return s.values[key]
}

// Server upgrades requests and drives consumers
type Server struct {
	hub        *Hub
	authn      Authenticator
	cookieName string
	cfg        config.WebSocketConfig
	clock      clock.Clock
	logger     *observability.Logger
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

// ServerOptions are the optional Server collaborators
type ServerOptions struct {
	CookieName string
	Clock      clock.Clock
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// NewServer creates a server over hub
func NewServer(hub *Hub, authn Authenticator, cfg config.WebSocketConfig, opts ServerOptions) *Server {
	s := &Server{
		hub:        hub,
		authn:      authn,
		cookieName: opts.CookieName,
		cfg:        cfg,
		clock:      opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = observability.NopLogger()
	}
	if s.metrics == nil {
		s.metrics = observability.NewNopMetrics()
	}
	if s.cookieName == "" {
		s.cookieName = "access_token"
	}
	if s.cfg.RateLimit <= 0 {
		s.cfg.RateLimit = defaultRateLimit
	}
	if s.cfg.RateWindow <= 0 {
		s.cfg.RateWindow = defaultRateWindow
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Handler serves consumer c
func (s *Server) Handler(c Consumer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.WithField("channel", c.Name())
		principal := s.authenticateRequest(r, logger)

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Debug("websocket upgrade failed")
			return
		}
		if s.cfg.MaxMessageBytes > 0 {
			conn.SetReadLimit(s.cfg.MaxMessageBytes)
		}

		client := newClient(conn, s.cfg.SendBuffer, s.cfg.WriteTimeout, s.cfg.PingInterval, logger)
		go client.writePump()

		sess := &Session{
			Principal: principal,
			Vars:      mux.Vars(r),
			client:    client,
			hub:       s.hub,
			groups:    map[string]struct{}{},
			values:    map[string]interface{}{},
		}
		s.serve(client.ctx, c, sess, conn, logger)
	})
}

// authenticateRequest resolves cookie or header credentials, then the legacy
// query-string token. Failures leave the connection pending.
func (s *Server) authenticateRequest(r *http.Request, logger *observability.Logger) auth.Principal {
	token := auth.TokenFromRequest(r, s.cookieName)
	if token == "" {
		if token = r.URL.Query().Get("token"); token != "" {
			logger.Debug("websocket authenticated via legacy query-string token")
		}
	}
	if token == "" || s.authn == nil {
		return nil
	}
	res, err := s.authn.Authenticate(r.Context(), auth.Credentials{
		Token:     token,
		IP:        httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		logger.WithError(err).Debug("websocket handshake authentication failed")
		return nil
	}
	return res.Principal
}

type reader interface {
	ReadMessage() (int, []byte, error)
}

func (s *Server) serve(ctx context.Context, c Consumer, sess *Session, conn reader, logger *observability.Logger) {
	s.metrics.WSConnectionsActive.WithLabelValues(c.Name()).Inc()
	defer s.metrics.WSConnectionsActive.WithLabelValues(c.Name()).Dec()

	connected := false
	defer func() {
		if connected {
			c.Disconnect(context.Background(), sess)
		}
		sess.leaveAll()
		sess.client.Shutdown()
	}()

	if sess.Principal != nil {
		if err := s.connect(ctx, c, sess); err != nil {
			s.reject(sess, logger, err)
			return
		}
		connected = true
	}

	limiter := NewSlidingWindow(s.cfg.RateLimit, s.cfg.RateWindow, s.clock)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Debug("websocket read ended")
			}
			return
		}

		if !limiter.Allow() {
			s.metrics.WSRateLimitedTotal.WithLabelValues(c.Name()).Inc()
			_ = sess.Send(errorFrame(ErrRateLimited))
			continue
		}

		msg, err := parseMessage(data)
		if err != nil {
			_ = sess.Send(errorFrame(err.Error()))
			continue
		}
		s.metrics.WSMessagesTotal.WithLabelValues(c.Name(), msg.Type).Inc()

		if sess.Principal == nil {
			if msg.Type != TypeAuthenticate {
				_ = sess.Send(errorFrame(ErrAuthRequired))
				continue
			}
			if !s.authenticateMessage(ctx, sess, msg, logger) {
				continue
			}
			if err := s.connect(ctx, c, sess); err != nil {
				s.reject(sess, logger, err)
				return
			}
			connected = true
			_ = sess.Send(map[string]interface{}{"type": TypeAuthenticated, "user_id": sess.Principal.ID()})
			continue
		}

		if err := c.Receive(ctx, sess, msg); err != nil {
			s.replyError(sess, logger.WithField("type", msg.Type), err)
		}
	}
}

func (s *Server) connect(ctx context.Context, c Consumer, sess *Session) error {
	ctx = auth.WithPrincipal(ctx, sess.Principal)
	return c.Connect(ctx, sess)
}

func (s *Server) authenticateMessage(ctx context.Context, sess *Session, msg Message, logger *observability.Logger) bool {
	var body struct {
		Token string `json:"token"`
	}
	if err := msg.Decode(&body); err != nil || strings.TrimSpace(body.Token) == "" {
		_ = sess.Send(errorFrame(ErrAuthFailed))
		return false
	}
	if s.authn == nil {
		_ = sess.Send(errorFrame(ErrAuthFailed))
		return false
	}
	res, err := s.authn.Authenticate(ctx, auth.Credentials{Token: body.Token})
	if err != nil {
		logger.WithError(err).Debug("websocket first-message authentication failed")
		_ = sess.Send(errorFrame(ErrAuthFailed))
		return false
	}
	sess.Principal = res.Principal
	return true
}

// reject reports a failed Connect and closes behind the error frame
func (s *Server) reject(sess *Session, logger *observability.Logger, err error) {
	s.replyError(sess, logger, err)
	sess.client.CloseWith(websocket.ClosePolicyViolation, truncate(frameMessage(err), 60))
}

func (s *Server) replyError(sess *Session, logger *observability.Logger, err error) {
	if appErr, ok := apperrors.As(err); ok && appErr.Kind != apperrors.KindInfrastructure && appErr.Kind != apperrors.KindUnknown {
		_ = sess.Send(errorFrame(frameMessage(appErr)))
		return
	}
	logger.WithError(err).WithStack().Error("websocket handler failed")
	_ = sess.Send(errorFrame(ErrInternal))
}

func frameMessage(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		for field, msgs := range appErr.Fields {
			if len(msgs) > 0 {
				return field + ": " + msgs[0]
			}
		}
		if appErr.Message != "" {
			return appErr.Message
		}
	}
	return err.Error()
}

func parseMessage(data []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Message{}, errors.New(ErrInvalidJSON)
	}
	if envelope.Type == "" {
		return Message{}, errors.New(errMissingTypeMsg)
	}
	return Message{Type: envelope.Type, Raw: data}, nil
}

func errorFrame(msg string) map[string]string {
	return map[string]string{"type": TypeError, "error": msg}
}

// truncate cuts s to at most n runes
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Consumers are the channel consumers mounted by RegisterRoutes
type Consumers struct {
	Board         Consumer
	Task          Consumer
	Notifications Consumer
	Calendar      Consumer
}

// RegisterRoutes mounts the WebSocket endpoints
func (s *Server) RegisterRoutes(router *mux.Router, c Consumers) {
	router.Handle("/ws/board/", s.Handler(c.Board))
	router.Handle("/ws/board/task/{task_id:[0-9]+}/", s.Handler(c.Task))
	router.Handle("/ws/notifications/", s.Handler(c.Notifications))
	router.Handle("/ws/calendar/", s.Handler(c.Calendar))
}
