package loopback

import (
	"errors"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ErrAlreadyCompleted is returned when a PendingResponse body was already written.
var ErrAlreadyCompleted = errors.New("loopback: response already completed")

// ErrAbandoned is returned when the browser went away before the body was written.
var ErrAbandoned = errors.New("loopback: browser disconnected before the response was completed")

// PendingResponse is the browser response of the callback request after its
// headers were sent and before its body is written. The callback handler stays
// blocked until Complete is called, so the final page reflects the real outcome
// of the token exchange.
type PendingResponse struct {
	w    http.ResponseWriter
	once sync.Once
	done chan struct{}

	mu        sync.Mutex
	abandoned bool
}

func newPendingResponse(w http.ResponseWriter) *PendingResponse {
	return &PendingResponse{w: w, done: make(chan struct{})}
}

// Complete writes body as the final page. Only the first call has any effect.
func (p *PendingResponse) Complete(body string) error {
	if p == nil {
		return ErrAlreadyCompleted
	}
	return p.write(body)
}

// Fail renders err as the final page.
func (p *PendingResponse) Fail(err error) error {
	return p.Complete(ErrorPage(err))
}

// Done is closed once the body has been written or the response was abandoned.
func (p *PendingResponse) Done() <-chan struct{} {
	return p.done
}

func (p *PendingResponse) write(body string) error {
	written := false
	var err error
	p.once.Do(func() {
		written = true
		_, err = p.w.Write([]byte(body))
		if flusher, ok := p.w.(http.Flusher); ok {
			flusher.Flush()
		}
		close(p.done)
	})
	if !written {
		if p.isAbandoned() {
			return ErrAbandoned
		}
		return ErrAlreadyCompleted
	}
	if err != nil {
		log.Debugf("writing final login page failed: %v", err)
	}
	return err
}

// abandon releases the response without writing. It must be called before the
// handler returns, since w is unusable afterwards.
func (p *PendingResponse) abandon() {
	p.once.Do(func() {
		p.mu.Lock()
		p.abandoned = true
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *PendingResponse) isAbandoned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abandoned
}
