package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/spprobe/domain"
)

func TestStaggeredCronExprIsParseable(t *testing.T) {
	expr := staggeredCronExpr(3600, 600, "0xabc", domain.JobFamilyDeal)
	_, err := parseSchedule(expr)
	require.NoError(t, err)
}

func TestStaggeredCronExprVariesByAddress(t *testing.T) {
	a := staggeredCronExpr(3600, 0, "0xabc", domain.JobFamilyDeal)
	b := staggeredCronExpr(3600, 0, "0xdef", domain.JobFamilyDeal)
	// Not guaranteed to differ for every pair, but across these two fixed
	// addresses the hash stagger should separate them.
	assert.NotEqual(t, a, b)
}

func TestStaggeredCronExprSubMinuteIntervalFallsBackToEveryMinute(t *testing.T) {
	expr := staggeredCronExpr(30, 0, "0xabc", domain.JobFamilyRetention)
	assert.Equal(t, "* * * * *", expr)
}
