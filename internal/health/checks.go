package health

import (
	"context"
	"errors"
	"fmt"
)

// ErrAllOpen is reported by [BreakerCheck] while every breaker of a
// fallback group is open.
var ErrAllOpen = errors.New("health: all circuit breakers open")

// Pinger is implemented by result sinks and stores that can verify their
// connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck returns a checker calling p.Ping.
func PingCheck(name string, critical bool, p Pinger) Checker {
	return Checker{Name: name, Critical: critical, Check: p.Ping}
}

// BreakerCheck returns a critical checker that fails while healthy reports
// false. It is meant for a landmark fallback group, where an all-open group
// means scans would see no faces.
func BreakerCheck(name string, healthy func() bool) Checker {
	return Checker{
		Name:     name,
		Critical: true,
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !healthy() {
				return ErrAllOpen
			}
			return nil
		},
	}
}

// FuncCheck adapts a plain function, wrapping its error with name.
func FuncCheck(name string, critical bool, fn func(context.Context) error) Checker {
	return Checker{
		Name:     name,
		Critical: critical,
		Check: func(ctx context.Context) error {
			if err := fn(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		},
	}
}
