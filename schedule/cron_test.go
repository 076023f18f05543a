package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayu2310/Wflow/errors"
)

func TestNextRunIsDeterministic(t *testing.T) {
	from := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	first, err := NextRun("*/5 * * * *", "UTC", from)
	require.NoError(t, err)
	second, err := NextRun("*/5 * * * *", "UTC", from)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestNextRunStrictlyAfterFrom(t *testing.T) {
	// exactly on a five-minute boundary: next fire is the following slot
	from := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	next, err := NextRun("*/5 * * * *", "UTC", from)
	require.NoError(t, err)

	assert.True(t, next.After(from), "next run %v must be strictly after %v", next, from)
	assert.Equal(t, time.Date(2025, 3, 10, 14, 35, 0, 0, time.UTC), next.UTC())
}

func TestNextRunFiveMinuteAlignment(t *testing.T) {
	from := time.Date(2025, 3, 10, 14, 32, 17, 0, time.UTC)

	next, err := NextRun("*/5 * * * *", "UTC", from)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 10, 14, 35, 0, 0, time.UTC), next.UTC())
	assert.Zero(t, next.Second())
	assert.Zero(t, next.Minute()%5)
}

func TestNextRunHonorsTimezone(t *testing.T) {
	// 9am daily in New York, computed from noon UTC (7am EST): fires
	// at 9am local, which is 14:00 UTC in winter
	from := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	next, err := NextRun("0 9 * * *", "America/New_York", from)
	require.NoError(t, err)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, 9, next.In(loc).Hour())
	assert.Equal(t, time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextRunAcrossDSTTransition(t *testing.T) {
	// US spring forward on 2025-03-09: 9am local stays 9am local, but
	// the UTC offset shifts from -5 to -4
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	before := time.Date(2025, 3, 8, 12, 0, 0, 0, loc)
	next, err := NextRun("0 9 * * *", "America/New_York", before)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 9, 9, 0, 0, 0, loc), next)

	after, err := NextRun("0 9 * * *", "America/New_York", next)
	require.NoError(t, err)
	assert.Equal(t, 9, after.In(loc).Hour())
	assert.Equal(t, 24*time.Hour-time.Hour, after.Sub(next), "spring-forward day is 23 hours")
}

func TestNextRunDescriptors(t *testing.T) {
	from := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	next, err := NextRun("@hourly", "UTC", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextRunInvalidExpression(t *testing.T) {
	cases := []string{
		"not a cron",
		"61 * * * *",
		"* * * * * *", // seconds field not accepted
		"",
	}
	for _, expr := range cases {
		_, err := NextRun(expr, "UTC", time.Now())
		assert.True(t, errors.IsInvalidExpressionError(err), "expected invalid expression error for %q", expr)
	}
}

func TestNextRunUnknownTimezone(t *testing.T) {
	_, err := NextRun("* * * * *", "Mars/Olympus_Mons", time.Now())
	assert.True(t, errors.IsInvalidExpressionError(err))
}

func TestValidateExpression(t *testing.T) {
	assert.NoError(t, ValidateExpression("*/5 * * * *", "UTC"))
	assert.NoError(t, ValidateExpression("0 9 * * 1-5", "Europe/Berlin"))
	assert.Error(t, ValidateExpression("bogus", "UTC"))
	assert.Error(t, ValidateExpression("* * * * *", "Nowhere/City"))
}
