package route

import (
	"context"
	"sync"
	"time"

	"github.com/nexthttp/nexthttp/pkg/collab"
	"github.com/nexthttp/nexthttp/pkg/constants"
	"github.com/nexthttp/nexthttp/pkg/errors"
)

// Connector walks a Planner's route list, applying a fast-fallback
// ("happy eyeballs") race between consecutive routes and recording outcomes
// into the Database.
type Connector struct {
	Dialer *Dialer
	DB     *Database

	// FastFallback enables racing the next route after FallbackDelay instead
	// of waiting for the current attempt to fail outright.
	FastFallback bool
	FallbackDelay time.Duration

	Clock collab.Clock
}

// NewConnector creates a Connector with the package defaults (fast fallback
// enabled at constants.DefaultFastFallbackDelay).
func NewConnector(dialer *Dialer, db *Database) *Connector {
	return &Connector{
		Dialer:        dialer,
		DB:            db,
		FastFallback:  constants.DefaultFastFallback,
		FallbackDelay: constants.DefaultFastFallbackDelay,
		Clock:         collab.SystemClock{},
	}
}

type attemptResult struct {
	route  Route
	result *DialResult
	err    error
}

// Connect tries routes in order. When FastFallback is set, it starts the
// next route's attempt FallbackDelay after the previous one without waiting
// for it to fail, keeping only the first winner and canceling the rest.
func (c *Connector) Connect(ctx context.Context, routes []Route) (*DialResult, Route, error) {
	if len(routes) == 0 {
		return nil, Route{}, errors.NewUnknownHostError("", nil, nil)
	}
	if !c.FastFallback || len(routes) == 1 {
		return c.connectSequential(ctx, routes)
	}
	return c.connectRaced(ctx, routes)
}

func (c *Connector) connectSequential(ctx context.Context, routes []Route) (*DialResult, Route, error) {
	var lastErr error
	var suppressed []error
	for _, r := range routes {
		res, err := c.Dialer.Dial(ctx, r)
		if err != nil {
			if c.DB != nil {
				c.DB.Failed(r)
			}
			if lastErr != nil {
				suppressed = append(suppressed, lastErr)
			}
			lastErr = err
			continue
		}
		if c.DB != nil {
			c.DB.Succeeded(r)
		}
		return res, r, nil
	}
	return nil, Route{}, attachSuppressed(lastErr, suppressed)
}

// connectRaced launches attempts FallbackDelay apart, cancels every loser as
// soon as the first attempt succeeds, and, if every leg fails, returns the
// last failure with the earlier ones attached as suppressed errors.
func (c *Connector) connectRaced(ctx context.Context, routes []Route) (*DialResult, Route, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan attemptResult, len(routes))
	var wg sync.WaitGroup

	launch := func(r Route) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Dialer.Dial(raceCtx, r)
			select {
			case resultCh <- attemptResult{route: r, result: res, err: err}:
			case <-raceCtx.Done():
				if res != nil {
					res.Conn.Close()
				}
			}
		}()
	}

	go func() {
		timer := time.NewTimer(0)
		defer timer.Stop()
		for i, r := range routes {
			select {
			case <-raceCtx.Done():
				return
			case <-timer.C:
			}
			launch(r)
			if i < len(routes)-1 {
				timer.Reset(c.FallbackDelay)
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var lastErr error
	var suppressed []error
	received := 0
	for ar := range resultCh {
		received++
		if ar.err != nil {
			if c.DB != nil {
				c.DB.Failed(ar.route)
			}
			if lastErr != nil {
				suppressed = append(suppressed, lastErr)
			}
			lastErr = ar.err
			if received == len(routes) {
				break
			}
			continue
		}
		if c.DB != nil {
			c.DB.Succeeded(ar.route)
		}
		cancel()
		// Drain remaining results asynchronously so their conns get closed
		// without blocking the winner's return.
		go func() {
			for extra := range resultCh {
				if extra.result != nil {
					extra.result.Conn.Close()
				}
			}
		}()
		return ar.result, ar.route, nil
	}

	return nil, Route{}, attachSuppressed(lastErr, suppressed)
}

func attachSuppressed(err error, suppressed []error) error {
	if err == nil {
		return errors.NewUnknownHostError("", nil, nil)
	}
	if len(suppressed) == 0 {
		return err
	}
	if e, ok := err.(*errors.Error); ok {
		return e.WithSuppressed(suppressed...)
	}
	return err
}
