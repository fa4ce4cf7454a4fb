//go:build property

package websocket

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestHubProperties checks fan-out and failure isolation for arbitrary
// mixes of healthy and broken connections.
func TestHubProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(12345)

	properties := gopter.NewProperties(parameters)

	properties.Property("every healthy connection receives exactly one message", prop.ForAll(
		func(broken []bool) bool {
			hub := NewHub(HubOptions{})
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = hub.Run(ctx)
			}()
			defer func() {
				cancel()
				<-done
			}()

			conns := make([]*fakeConn, len(broken))
			healthy := 0
			for i, b := range broken {
				conns[i] = &fakeConn{}
				if b {
					conns[i].sendErr = errors.New("gone")
				} else {
					healthy++
				}
				if hub.Register(conns[i]) != nil {
					return false
				}
			}

			delivered, err := hub.Broadcast(context.Background(), ReloadMessage("p.puml"))
			if err != nil || delivered != healthy || hub.Count() != healthy {
				return false
			}

			for i, c := range conns {
				got := len(c.received())
				if broken[i] && (got != 0 || c.closeCount() != 1) {
					return false
				}
				if !broken[i] && (got != 1 || c.closeCount() != 0) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
