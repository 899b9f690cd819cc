package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.XPGranted(10)
	m.XPGranted(-3)
	m.LevelUp("monthly", 2)
	m.LevelUp("lifetime", 0)
	m.CASConflict()
	m.RolloverCompleted(3, 12)
	m.ActivityProcessed("notified", 20*time.Millisecond)
	m.NotificationFailed("level_up")
	m.JobFinished("activity", nil, time.Millisecond)
	m.JobFinished("activity", errors.New("x"), time.Millisecond)
	m.JobRetried("activity")
	m.JobDeadLettered("activity")

	assert.Equal(t, 10.0, testutil.ToFloat64(m.xpGranted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.levelUps.WithLabelValues("monthly")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.casConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rollovers))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rolloverCredited))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.rolloverWiped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activityProcessed.WithLabelValues("notified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsFailed.WithLabelValues("level_up")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("activity", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("activity", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsRetried.WithLabelValues("activity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsDeadLettered.WithLabelValues("activity")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.XPGranted(5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "leveleando_xp_granted_total 5"), body)
}
