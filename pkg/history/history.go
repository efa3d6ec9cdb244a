// Package history fetches raw entity history from upstream sources
package history

import (
	"context"
	"errors"
	"time"

	"github.com/vjranagit/minigraph/pkg/types"
)

// ErrUnexpectedStatus is returned when the history endpoint answers with a non-2xx status
var ErrUnexpectedStatus = errors.New("history: unexpected status")

// Request selects the history of one entity
type Request struct {
	EntityID string
	Start    time.Time
	End      time.Time
	// SkipInitialState omits the synthetic sample describing the state in
	// effect at Start
	SkipInitialState bool
}

// Fetcher retrieves history for an entity ordered by time
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]types.Sample, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, req Request) ([]types.Sample, error)

// Fetch implements Fetcher
func (f FetcherFunc) Fetch(ctx context.Context, req Request) ([]types.Sample, error) {
	return f(ctx, req)
}
