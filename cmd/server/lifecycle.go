package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// stopStep is one component to stop on shutdown. A nil fn is skipped.
type stopStep struct {
	name string
	fn   func(context.Context) error
}

// stopAll runs steps in order. Every non-nil step gets an equal slice of
// budget, and all of them share the overall budget deadline. A failing step
// is logged and does not stop the ones after it.
func stopAll(L log.Logger, budget time.Duration, steps []stopStep) error {
	var live []stopStep
	for _, s := range steps {
		if s.fn != nil {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return nil
	}

	perStep := budget / time.Duration(len(live))
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	var errs []error
	for _, s := range live {
		sctx, scancel := context.WithTimeout(ctx, perStep)
		err := s.fn(sctx)
		scancel()
		if err != nil {
			L.Error(ctx, err, s.name+" shutdown")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// drain holds the process while the load balancer notices the closed gate.
// A value on force ends the wait early.
func drain(L log.Logger, d time.Duration, force <-chan os.Signal) {
	ctx := context.Background()
	L.Info(ctx, "draining", "drain", d)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(ctx, "drain period complete")
	case <-force:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

var errNoNotifySocket = errors.New("NOTIFY_SOCKET not set")

// sdNotify sends a state line such as READY=1 to the systemd notify socket.
// It returns errNoNotifySocket when the process was not started by systemd
// with Type=notify.
func sdNotify(state string) error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return errNoNotifySocket
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr comes from systemd, unixgram dial has no context variant
	if err != nil {
		return fmt.Errorf("sd_notify %s: dial: %w", state, err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("sd_notify %s: write: %w", state, err)
	}
	return nil
}

// notifySystemd reports state and logs real failures. Running outside
// systemd is not a failure.
func notifySystemd(ctx context.Context, L log.Logger, state string) {
	err := sdNotify(state)
	if err == nil || errors.Is(err, errNoNotifySocket) {
		return
	}
	L.Warn(ctx, "systemd notify failed", "state", state, "error", err)
}
