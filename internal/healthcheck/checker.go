package healthcheck

import (
	"context"
	"time"
)

const (
	// StatusOK indicates check passed.
	StatusOK = "ok"
	// StatusError indicates check failed.
	StatusError = "error"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 3 * time.Second

// CheckResult is one dependency check.
type CheckResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Latency string `json:"latency"`
	Detail  string `json:"detail,omitempty"`
}

// Checker pings one dependency.
type Checker interface {
	ID() string
	Check(ctx context.Context) error
}

type funcChecker struct {
	id   string
	ping func(ctx context.Context) error
}

// Func adapts a ping function, such as pgxpool.Pool.Ping.
func Func(id string, ping func(ctx context.Context) error) Checker {
	return funcChecker{id: id, ping: ping}
}

func (c funcChecker) ID() string                      { return c.id }
func (c funcChecker) Check(ctx context.Context) error { return c.ping(ctx) }

// Run evaluates checkers in order and reports whether all passed.
func Run(ctx context.Context, checkers ...Checker) ([]CheckResult, bool) {
	results := make([]CheckResult, 0, len(checkers))
	healthy := true
	for _, checker := range checkers {
		if checker == nil {
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
		started := time.Now()
		err := checker.Check(checkCtx)
		cancel()
		item := CheckResult{
			ID:      checker.ID(),
			Status:  StatusOK,
			Latency: time.Since(started).Round(time.Millisecond).String(),
		}
		if err != nil {
			item.Status = StatusError
			item.Detail = err.Error()
			healthy = false
		}
		results = append(results, item)
	}
	return results, healthy
}
