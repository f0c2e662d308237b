package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRotationTransition(t *testing.T) {
	before := testutil.ToFloat64(rotationsTotal.WithLabelValues("complete", OutcomeSuccess))
	RotationTransition("complete", OutcomeSuccess)
	assert.Equal(t, before+1, testutil.ToFloat64(rotationsTotal.WithLabelValues("complete", OutcomeSuccess)))
}

func TestReuseSkippedIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(reuseSkippedTotal)
	ReuseSkipped(0)
	ReuseSkipped(3)
	assert.Equal(t, before+3, testutil.ToFloat64(reuseSkippedTotal))
}

func TestBreachCache(t *testing.T) {
	hits := testutil.ToFloat64(breachRangeCacheTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(breachRangeCacheTotal.WithLabelValues("miss"))
	BreachCache(true)
	BreachCache(false)
	BreachCache(false)
	assert.Equal(t, hits+1, testutil.ToFloat64(breachRangeCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(breachRangeCacheTotal.WithLabelValues("miss")))
}

func TestSetInventory(t *testing.T) {
	SetInventory(7, 2)
	assert.Equal(t, 7.0, testutil.ToFloat64(credentialsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(scheduledRotations))
}
