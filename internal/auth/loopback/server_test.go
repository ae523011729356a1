package loopback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/router-for-me/cxlogin/internal/auth"
)

func startServer(t *testing.T, opts ServerOptions) *CallbackServer {
	t.Helper()
	srv := NewCallbackServer(opts)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func waitCallback(t *testing.T, srv *CallbackServer) (*Callback, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Wait(ctx)
}

func callbackRequest(query string) *http.Request {
	return httptest.NewRequest(http.MethodGet, CallbackPath+query, nil)
}

func TestStartBindsLoopbackAndListens(t *testing.T) {
	srv := startServer(t, ServerOptions{})
	if srv.State() != StateListening || !srv.IsListening() {
		t.Fatalf("state = %s, want listening", srv.State())
	}
	if srv.Port() == 0 {
		t.Fatal("expected the bound port to be reported")
	}
	if err := srv.Start(); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestStartListenFailed(t *testing.T) {
	refused := errors.New("permission denied")
	srv := NewCallbackServer(ServerOptions{
		Port:   50000,
		Listen: func(string, string) (net.Listener, error) { return nil, refused },
	})
	err := srv.Start()
	if !auth.IsKind(err, auth.KindListenFailed) {
		t.Fatalf("err = %v, want listen failed", err)
	}
	if !errors.Is(err, refused) {
		t.Fatalf("err = %v, want bind error as cause", err)
	}
	if srv.State() != StateClosed {
		t.Fatalf("state = %s, want closed", srv.State())
	}
	if err = srv.Close(); err != nil {
		t.Fatalf("Close after failed start: %v", err)
	}
}

func TestFirstCodeWins(t *testing.T) {
	srv := startServer(t, ServerOptions{})

	first := httptest.NewRecorder()
	handled := make(chan struct{})
	go func() {
		srv.ServeHTTP(first, callbackRequest("?code=abc123"))
		close(handled)
	}()

	cb, err := waitCallback(t, srv)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if cb.Code != "abc123" {
		t.Fatalf("code = %q, want abc123", cb.Code)
	}
	if srv.State() != StateCodeReceived || srv.IsListening() {
		t.Fatalf("state = %s, want code-received", srv.State())
	}

	second := httptest.NewRecorder()
	srv.ServeHTTP(second, callbackRequest("?code=other"))
	if second.Code != http.StatusConflict {
		t.Fatalf("second request status = %d, want %d", second.Code, http.StatusConflict)
	}

	select {
	case <-handled:
		t.Fatal("first response finished before the final page was written")
	default:
	}

	if err = cb.Response.Complete(SuccessPage()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	<-handled
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.Code)
	}
	if !strings.Contains(first.Body.String(), "Login Successful") {
		t.Fatalf("unexpected final page: %s", first.Body.String())
	}
	if err = cb.Response.Complete("again"); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("second Complete err = %v, want ErrAlreadyCompleted", err)
	}
}

func TestRejectedCallback(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantMsg string
	}{
		{name: "no code", query: "", wantMsg: "no authorization code"},
		{name: "provider error", query: "?error=access_denied&error_description=User+cancelled", wantMsg: "access_denied: User cancelled"},
		{name: "error without description", query: "?error=access_denied", wantMsg: "access_denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startServer(t, ServerOptions{})
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, callbackRequest(tt.query))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			_, err := waitCallback(t, srv)
			if !auth.IsKind(err, auth.KindRejected) {
				t.Fatalf("err = %v, want rejected", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("err = %v, want message containing %q", err, tt.wantMsg)
			}
			if srv.State() != StateRejected {
				t.Fatalf("state = %s, want rejected", srv.State())
			}
			if !strings.Contains(rec.Body.String(), "Login Failed") {
				t.Fatalf("expected error page, got %s", rec.Body.String())
			}
		})
	}
}

func TestOtherPathsDoNotConsumeCallback(t *testing.T) {
	srv := startServer(t, ServerOptions{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !srv.IsListening() {
		t.Fatalf("state = %s, want listening", srv.State())
	}
}

func TestDeadlineTimesOut(t *testing.T) {
	fire := make(chan time.Time, 1)
	var requested time.Duration
	srv := startServer(t, ServerOptions{
		After: func(d time.Duration) <-chan time.Time {
			requested = d
			return fire
		},
	})
	if requested != DefaultTimeout {
		t.Fatalf("deadline = %s, want %s", requested, DefaultTimeout)
	}

	fire <- time.Now()
	_, err := waitCallback(t, srv)
	if !auth.IsKind(err, auth.KindTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if srv.State() != StateTimedOut {
		t.Fatalf("state = %s, want timed-out", srv.State())
	}
	if srv.IsListening() {
		t.Fatal("server still listening after timeout")
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, callbackRequest("?code=late"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("late callback status = %d, want 409", rec.Code)
	}
}

func TestCloseSupersedesWaiter(t *testing.T) {
	srv := startServer(t, ServerOptions{})
	done := make(chan error, 1)
	go func() {
		_, err := srv.Wait(context.Background())
		done <- err
	}()

	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, auth.ErrSuperseded) {
			t.Fatalf("err = %v, want superseded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released by Close")
	}
	if srv.State() != StateClosed {
		t.Fatalf("state = %s, want closed", srv.State())
	}
}

func TestCloseReleasesHeldResponse(t *testing.T) {
	srv := startServer(t, ServerOptions{})
	rec := httptest.NewRecorder()
	handled := make(chan struct{})
	go func() {
		srv.ServeHTTP(rec, callbackRequest("?code=abc123"))
		close(handled)
	}()
	if _, err := waitCallback(t, srv); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	_ = srv.Close()
	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("held response not released by Close")
	}
	if !strings.Contains(rec.Body.String(), "Login Cancelled") {
		t.Fatalf("expected cancelled page, got %s", rec.Body.String())
	}
}

func TestBrowserDisconnectAbandonsResponse(t *testing.T) {
	srv := startServer(t, ServerOptions{})

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_, err = fmt.Fprintf(conn, "GET %s?code=abc123 HTTP/1.1\r\nHost: localhost\r\n\r\n", CallbackPath)
	if err != nil {
		t.Fatalf("write request: %v", err)
	}
	status, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil || !strings.Contains(status, "200") {
		t.Fatalf("status line = %q, %v", status, err)
	}

	cb, err := waitCallback(t, srv)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	_ = conn.Close()

	select {
	case <-cb.Response.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("response not released after the browser disconnected")
	}
	if err = cb.Response.Complete(SuccessPage()); !errors.Is(err, ErrAbandoned) {
		t.Fatalf("Complete = %v, want ErrAbandoned", err)
	}
	if err = cb.Response.Fail(auth.New(auth.KindTimeout, "late")); !errors.Is(err, ErrAbandoned) {
		t.Fatalf("Fail = %v, want ErrAbandoned", err)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	srv := startServer(t, ServerOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := srv.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCallbackRoundTrip(t *testing.T) {
	srv := startServer(t, ServerOptions{})

	type reply struct {
		status int
		body   string
		err    error
	}
	replies := make(chan reply, 1)
	go func() {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s?code=abc123", srv.Port(), CallbackPath))
		if err != nil {
			replies <- reply{err: err}
			return
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		replies <- reply{status: resp.StatusCode, body: string(body), err: err}
	}()

	cb, err := waitCallback(t, srv)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if cb.Code != "abc123" {
		t.Fatalf("code = %q", cb.Code)
	}
	if err = cb.Response.Complete(SuccessPage()); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	select {
	case r := <-replies:
		if r.err != nil {
			t.Fatalf("browser request: %v", r.err)
		}
		if r.status != http.StatusOK || !strings.Contains(r.body, "Login Successful") {
			t.Fatalf("status = %d body = %s", r.status, r.body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("browser never received the final page")
	}
}
