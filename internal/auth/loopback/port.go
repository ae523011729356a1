package loopback

import (
	"context"
	"fmt"
	"math/rand"
	"net"

	"github.com/router-for-me/cxlogin/internal/auth"
	log "github.com/sirupsen/logrus"
)

// Dynamic/private port range (RFC 6335).
const (
	MinPort         = 49152
	MaxPort         = 65535
	MaxPortAttempts = 10
)

// PortAllocator picks a free loopback port at random from the dynamic range.
// Random selection keeps concurrently running clients from colliding.
type PortAllocator struct {
	// Bind tests a candidate port; nil selects a bind-and-release on 127.0.0.1.
	Bind func(port int) error
	// IntN returns a uniform value in [0, n); nil selects math/rand.
	IntN func(n int) int
}

// AllocatePort returns a free port using the default allocator.
func AllocatePort(ctx context.Context) (int, error) {
	return (&PortAllocator{}).Allocate(ctx)
}

// Allocate tries up to MaxPortAttempts random candidates.
func (a *PortAllocator) Allocate(ctx context.Context) (int, error) {
	bind := a.Bind
	if bind == nil {
		bind = bindAndRelease
	}
	intN := a.IntN
	if intN == nil {
		intN = rand.Intn
	}

	var lastErr error
	for attempt := 1; attempt <= MaxPortAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		port := MinPort + intN(MaxPort-MinPort+1)
		if lastErr = bind(port); lastErr == nil {
			log.Debugf("allocated callback port %d after %d attempt(s)", port, attempt)
			return port, nil
		}
		log.Debugf("callback port %d unavailable: %v", port, lastErr)
	}
	return 0, auth.Wrap(auth.KindPortExhausted, fmt.Sprintf("no free port found after %d attempts", MaxPortAttempts), lastErr)
}

func bindAndRelease(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	return listener.Close()
}
