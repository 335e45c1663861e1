package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordProbe(t *testing.T) {
	success := probesTotal.With(prometheus.Labels{"endpoint": "metrics-test", "outcome": "success"})
	failure := probesTotal.With(prometheus.Labels{"endpoint": "metrics-test", "outcome": "failure"})
	beforeOK := testutil.ToFloat64(success)
	beforeFail := testutil.ToFloat64(failure)

	RecordProbe("metrics-test", 20*time.Millisecond, false)
	RecordProbe("metrics-test", 0, true)

	assert.Equal(t, beforeOK+1, testutil.ToFloat64(success))
	assert.Equal(t, beforeFail+1, testutil.ToFloat64(failure))
}

func TestSetPollerRunning(t *testing.T) {
	SetPollerRunning(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(pollerRunning))

	SetPollerRunning(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(pollerRunning))
}

func TestRecordSinkWrite(t *testing.T) {
	ok := sinkWritesTotal.With(prometheus.Labels{"sink": "test", "status": "ok"})
	failed := sinkWritesTotal.With(prometheus.Labels{"sink": "test", "status": "error"})
	beforeOK := testutil.ToFloat64(ok)
	beforeFailed := testutil.ToFloat64(failed)

	RecordSinkWrite("test", nil)
	RecordSinkWrite("test", errors.New("disk full"))

	assert.Equal(t, beforeOK+1, testutil.ToFloat64(ok))
	assert.Equal(t, beforeFailed+1, testutil.ToFloat64(failed))
}

func TestSetSeriesCount(t *testing.T) {
	SetSeriesCount(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(seriesTotal))
}
