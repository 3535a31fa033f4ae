package source

import (
	"context"
	"errors"

	"github.com/snapetech/tubecache/internal/failure"
	"github.com/snapetech/tubecache/internal/logger"
)

// Chain tries each source in order and returns the first stream. Invalid
// input and caller cancellation stop the walk early.
type Chain struct {
	sources []Source
	log     *logger.Logger
}

// NewChain returns a Chain over sources, tried in the order given.
func NewChain(log *logger.Logger, sources ...Source) *Chain {
	return &Chain{sources: sources, log: log.WithComponent("source")}
}

// Name identifies the chain in logs; the stream's Info.Source names the member that served it.
func (c *Chain) Name() string { return "chain" }

// Fetch returns the first successful stream. When every source fails the
// error carries the messages of all of them.
func (c *Chain) Fetch(ctx context.Context, id string) (*Stream, error) {
	if len(c.sources) == 0 {
		return nil, failure.Upstream("fetch "+id, errors.New("no sources configured"))
	}
	var errs []error
	var last error
	for i, s := range c.sources {
		st, err := s.Fetch(ctx, id)
		if err == nil {
			if i > 0 {
				c.log.Info("fallback source succeeded", "id", id, "source", s.Name(), "skipped", i)
			}
			return st, nil
		}
		last = err
		errs = append(errs, err)
		if ctx.Err() != nil || failure.Is(err, failure.InvalidInput) {
			break
		}
		if i < len(c.sources)-1 {
			c.log.Warn("source failed, trying next", "id", id, "source", s.Name(), "err", err)
		}
	}
	if len(errs) == 1 {
		return nil, failure.Upstream("fetch "+id, last)
	}
	return nil, &failure.Error{Kind: combinedKind(errs), Op: "fetch " + id, Err: errors.Join(errs...)}
}

// combinedKind is NoAudioFormat only when every source said so; otherwise the
// kind of the last other failure, defaulting to Acquisition.
func combinedKind(errs []error) failure.Kind {
	kind := failure.NoAudioFormat
	for _, err := range errs {
		switch k := failure.KindOf(err); k {
		case failure.NoAudioFormat:
		case failure.Unknown:
			kind = failure.Acquisition
		default:
			kind = k
		}
	}
	return kind
}
