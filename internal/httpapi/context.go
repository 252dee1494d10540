package httpapi

import (
	"context"
	"errors"
	"net/http"
)

// errServerStopping is the cancel cause of generations cut short because the
// server is shutting down.
var errServerStopping = errors.New("server shutting down")

// serverBaseCtx is canceled on shutdown so running generations stop between
// tokens. Defaults to Background.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// generationContext is the context a generation runs under. It ends with the
// request, when the base context is canceled (cause errServerStopping), or
// after the generate timeout.
func generationContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(r.Context())
	if serverBaseCtx.Err() != nil {
		cancel(errServerStopping)
	}
	stop := context.AfterFunc(serverBaseCtx, func() { cancel(errServerStopping) })
	release := func() {
		stop()
		cancel(nil)
	}
	if d := generateDeadline(); d > 0 {
		tctx, cancelT := context.WithTimeout(ctx, d)
		return tctx, func() {
			cancelT()
			release()
		}
	}
	return ctx, release
}

// stoppedByServer reports whether ctx ended because of shutdown.
func stoppedByServer(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errServerStopping)
}
