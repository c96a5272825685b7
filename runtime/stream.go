package runtime

import (
	"context"

	"github.com/aetherpro/fabric/shared"
)

// normalizeStream enforces the streaming contract on a raw event source:
// exactly one terminal final event, nothing after it, and a synthesized final
// error when the source dies without one (disconnect, cancellation, timeout).
func normalizeStream(ctx context.Context, trace shared.TraceContext, raw <-chan shared.StreamEvent) <-chan shared.StreamEvent {
	out := make(chan shared.StreamEvent)
	go func() {
		defer close(out)
		sawFinal := false
		for {
			select {
			case <-ctx.Done():
				if !sawFinal {
					terminal := shared.FinalErrorEvent(trace, ctxError(ctx))
					select {
					case out <- terminal:
					default:
					}
				}
				return
			case ev, ok := <-raw:
				if !ok {
					if !sawFinal {
						out <- shared.FinalErrorEvent(trace,
							shared.NewError(shared.ErrUpstream, "stream ended without final event"))
					}
					return
				}
				if sawFinal {
					// Contract violation upstream; drop anything after final.
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.IsFinal() {
					sawFinal = true
				}
			}
		}
	}()
	return out
}

func ctxError(ctx context.Context) *shared.Error {
	if ctx.Err() == context.DeadlineExceeded {
		return shared.NewError(shared.ErrTimeout, "call deadline exceeded")
	}
	return shared.NewError(shared.ErrTimeout, "call cancelled")
}

// syntheticStream degrades a sync response into a single-event stream: one
// terminal final carrying the canonical envelope.
func syntheticStream(resp *shared.Response) <-chan shared.StreamEvent {
	out := make(chan shared.StreamEvent, 1)
	out <- shared.FinalEvent(resp)
	close(out)
	return out
}
