package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSync_Counters(t *testing.T) {
	m := NewSync(prometheus.NewRegistry())

	m.PageFetched(true)
	m.PageFetched(true)
	m.PageFetched(false)
	m.EntriesMerged("new", 2)
	m.Pushed(false)
	m.Purged(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PagesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesTotal.WithLabelValues("failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EntriesTotal.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushesTotal.WithLabelValues("failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PurgedTotal))
}

func TestSync_PassLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSync(reg)

	m.PassStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Running))

	m.PassFinished("success", 2*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Running))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PassesTotal.WithLabelValues("success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PassDuration))
}

func TestNewSync_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewSync(prometheus.NewRegistry())
		NewSync(prometheus.NewRegistry())
	})
}
