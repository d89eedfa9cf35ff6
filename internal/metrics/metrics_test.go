package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveIntegrationCountsOutcome(t *testing.T) {
	before := testutil.ToFloat64(integrationCalls.WithLabelValues("test_calendar", "create", "failure"))
	ObserveIntegration("test_calendar", "create", time.Now(), errors.New("boom"))
	after := testutil.ToFloat64(integrationCalls.WithLabelValues("test_calendar", "create", "failure"))
	assert.Equal(t, before+1, after)
}

func TestObserveCredentialCache(t *testing.T) {
	hits := testutil.ToFloat64(credentialCache.WithLabelValues("hit"))
	ObserveCredentialCache(true)
	assert.Equal(t, hits+1, testutil.ToFloat64(credentialCache.WithLabelValues("hit")))
}
