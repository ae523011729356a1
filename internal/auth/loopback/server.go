// Package loopback implements the short-lived local HTTP listener that
// captures the authorization code redirected back from the identity provider,
// and the ephemeral port allocation it relies on.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/router-for-me/cxlogin/internal/auth"
	log "github.com/sirupsen/logrus"
)

const (
	// CallbackPath is the fixed redirect path registered for the client.
	CallbackPath = "/checkmarx1/callback"
	// DefaultTimeout bounds how long the server waits for the browser.
	DefaultTimeout = 60 * time.Second

	shutdownGrace = 2 * time.Second
)

// State is the lifecycle state of a CallbackServer.
type State int

const (
	StateCreated State = iota
	StateListening
	StateCodeReceived
	StateRejected
	StateTimedOut
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateListening:
		return "listening"
	case StateCodeReceived:
		return "code-received"
	case StateRejected:
		return "rejected"
	case StateTimedOut:
		return "timed-out"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// terminal reports whether no further transition except Closed is allowed.
func (s State) terminal() bool {
	return s == StateCodeReceived || s == StateRejected || s == StateTimedOut || s == StateClosed
}

// Callback is the successful outcome of a CallbackServer.
type Callback struct {
	// Code is the authorization code delivered by the identity provider.
	Code string
	// Response is the held-open browser response awaiting its final page.
	Response *PendingResponse
}

type callbackResult struct {
	callback *Callback
	err      error
}

// ServerOptions configures a CallbackServer.
type ServerOptions struct {
	// Port to bind on 127.0.0.1. Zero lets the OS choose, which tests rely on.
	Port int
	// Path is the callback path; defaults to CallbackPath.
	Path string
	// Timeout is the deadline for the single callback; defaults to DefaultTimeout.
	Timeout time.Duration
	// After replaces time.After, for tests.
	After func(time.Duration) <-chan time.Time
	// Listen replaces net.Listen, for tests.
	Listen func(network, address string) (net.Listener, error)
}

// CallbackServer accepts exactly one callback request and then stops listening.
// Transitions: Created -> Listening -> {CodeReceived | Rejected | TimedOut} -> Closed.
type CallbackServer struct {
	opts ServerOptions

	mu       sync.Mutex
	state    State
	claimed  bool
	port     int
	deadline time.Time
	listener net.Listener
	server   *http.Server

	results chan callbackResult
	closing chan struct{}
}

// NewCallbackServer creates a server in the Created state.
func NewCallbackServer(opts ServerOptions) *CallbackServer {
	if opts.Path == "" {
		opts.Path = CallbackPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.After == nil {
		opts.After = time.After
	}
	if opts.Listen == nil {
		opts.Listen = net.Listen
	}
	return &CallbackServer{
		opts:    opts,
		state:   StateCreated,
		port:    opts.Port,
		results: make(chan callbackResult, 1),
		closing: make(chan struct{}),
	}
}

// Start binds the loopback listener and arms the deadline. A bind failure is
// reported as ListenFailed and leaves the server Closed.
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return fmt.Errorf("loopback: cannot start server in state %s", s.state)
	}

	listener, err := s.opts.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.opts.Port))
	if err != nil {
		s.state = StateClosed
		close(s.closing)
		return auth.Wrap(auth.KindListenFailed, fmt.Sprintf("cannot listen on port %d", s.opts.Port), err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}

	mux := http.NewServeMux()
	mux.Handle(s.opts.Path, s)
	s.listener = listener
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.state = StateListening
	s.deadline = time.Now().Add(s.opts.Timeout)

	go func(server *http.Server, l net.Listener) {
		if errServe := server.Serve(l); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) && !errors.Is(errServe, net.ErrClosed) {
			log.Debugf("callback server stopped: %v", errServe)
		}
	}(s.server, listener)
	go s.watchDeadline(s.opts.After(s.opts.Timeout))

	log.Debugf("callback server listening on 127.0.0.1:%d", s.port)
	return nil
}

// Port returns the bound port.
func (s *CallbackServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Deadline returns when the server stops waiting.
func (s *CallbackServer) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// State returns the current state.
func (s *CallbackServer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsListening reports whether the server still accepts the callback.
func (s *CallbackServer) IsListening() bool {
	return s.State() == StateListening
}

// Wait blocks until the callback arrives, the deadline elapses, ctx ends or the
// server is closed by its owner.
func (s *CallbackServer) Wait(ctx context.Context) (*Callback, error) {
	select {
	case res := <-s.results:
		return res.callback, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closing:
		select {
		case res := <-s.results:
			return res.callback, res.err
		default:
		}
		return nil, auth.New(auth.KindSuperseded, "callback server was closed before a callback arrived")
	}
}

// ServeHTTP handles the callback request.
func (s *CallbackServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.opts.Path {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	if s.state != StateListening || s.claimed {
		state := s.state
		s.mu.Unlock()
		log.Debugf("ignoring callback request in state %s", state)
		http.Error(w, "This login request was already handled.", http.StatusConflict)
		return
	}
	s.claimed = true
	s.mu.Unlock()

	query := r.URL.Query()
	code := query.Get("code")
	if code == "" {
		err := rejection(query.Get("error"), query.Get("error_description"))
		log.Warnf("callback rejected: %v", err)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(ErrorPage(err)))
		s.stopAccepting()
		s.finish(StateRejected, callbackResult{err: err})
		return
	}

	log.Debug("authorization code received")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	s.stopAccepting()

	pending := newPendingResponse(w)
	s.finish(StateCodeReceived, callbackResult{callback: &Callback{Code: code, Response: pending}})

	select {
	case <-pending.Done():
	case <-r.Context().Done():
		pending.abandon()
		log.Debug("browser disconnected before the final page was written")
	case <-s.closing:
		_ = pending.write(supersededPage())
	}
}

func rejection(errCode, description string) error {
	switch {
	case errCode != "" && description != "":
		return auth.Newf(auth.KindRejected, "%s: %s", errCode, description)
	case errCode != "":
		return auth.New(auth.KindRejected, errCode)
	default:
		return auth.New(auth.KindRejected, "no authorization code in callback")
	}
}

func (s *CallbackServer) finish(state State, res callbackResult) {
	s.mu.Lock()
	if s.state == StateListening {
		s.state = state
	}
	s.mu.Unlock()
	s.results <- res
}

func (s *CallbackServer) watchDeadline(expired <-chan time.Time) {
	select {
	case <-expired:
	case <-s.closing:
		return
	}

	s.mu.Lock()
	if s.state != StateListening || s.claimed {
		s.mu.Unlock()
		return
	}
	s.claimed = true
	s.state = StateTimedOut
	s.mu.Unlock()

	log.Warnf("no login callback within %s", s.opts.Timeout)
	s.forceClose()
	s.results <- callbackResult{err: auth.Newf(auth.KindTimeout, "no callback received within %s", s.opts.Timeout)}
}

// stopAccepting closes the listener so no further connection is accepted,
// while the connection being served stays open.
func (s *CallbackServer) stopAccepting() {
	s.mu.Lock()
	listener, server := s.listener, s.server
	s.mu.Unlock()
	if server != nil {
		server.SetKeepAlivesEnabled(false)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *CallbackServer) forceClose() {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server != nil {
		_ = server.Close()
	}
}

// Close releases the listener and any held-open response. It is idempotent.
func (s *CallbackServer) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	s.state = StateClosed
	server := s.server
	close(s.closing)
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	server.SetKeepAlivesEnabled(false)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Debugf("callback server shutdown after %s: %v", prev, err)
		return server.Close()
	}
	log.Debugf("callback server closed after %s", prev)
	return nil
}
