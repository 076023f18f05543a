package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ayu2310/Wflow/errors"
)

// parser accepts standard five-field cron expressions plus descriptors
// like @hourly. Seconds-resolution schedules are deliberately excluded.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextRun computes the next trigger instant for a cron expression in the
// given IANA timezone, strictly after from. The computation happens in
// the target zone so DST transitions resolve correctly regardless of the
// process-local timezone. Deterministic for fixed inputs.
func NextRun(cronExpr, timezone string, from time.Time) (time.Time, error) {
	spec, err := parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, errors.Wrapf(errors.ErrInvalidExpression, "%q: %v", cronExpr, err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, errors.Wrapf(errors.ErrInvalidExpression, "unknown timezone %q", timezone)
	}

	next := spec.Next(from.In(loc))
	if next.IsZero() {
		return time.Time{}, errors.Wrapf(errors.ErrInvalidExpression, "%q has no future occurrence", cronExpr)
	}
	return next, nil
}

// ValidateExpression checks a cron expression and timezone without
// computing anything. Used at schedule creation so invalid expressions
// are rejected eagerly, not at first fire.
func ValidateExpression(cronExpr, timezone string) error {
	_, err := NextRun(cronExpr, timezone, time.Now())
	return err
}
