package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

type undoStep struct {
	name string
	fn   func(context.Context) error
}

// compensation records the undo action of every side effect applied so far
// and unwinds them newest first.
type compensation struct {
	attempt string
	steps   []undoStep
}

func (c *compensation) push(name string, fn func(context.Context) error) {
	c.steps = append(c.steps, undoStep{name: name, fn: fn})
}

// rollback runs every undo step even when one fails. Undo ignores
// cancellation of ctx.
func (c *compensation) rollback(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := step.fn(ctx); err != nil {
			logging.Log(logging.Fields{Service: logService, AttemptID: c.attempt, Step: step.name, Status: "compensation_failed", Error: err.Error()})
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		logging.Log(logging.Fields{Service: logService, AttemptID: c.attempt, Step: step.name, Status: "compensated"})
	}
	c.steps = nil
	return errors.Join(errs...)
}
