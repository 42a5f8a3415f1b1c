package relay

import (
	"context"

	"github.com/alfredjeanlab/relay/internal/eventbus"
	"github.com/alfredjeanlab/relay/internal/model"
)

// forward moves bus events to out until ctx is canceled or the subscription
// closes. Events whose source equals origin came from this transport class
// and are never echoed back to it.
func forward(ctx context.Context, sub *eventbus.Subscription, origin string, out chan<- model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if e.Source == origin {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}
}
