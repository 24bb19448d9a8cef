package listeners

import (
	"context"
	"time"
)

const sinkTimeout = 5 * time.Second

// detach keeps ctx's values but drops its cancellation, so a cancelled
// search still gets its RetrievalError out to the sinks.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
}
