package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		local  time.Time
		remote time.Time
		want   Resolution
	}{
		{"equal", t0, t0, ResolutionNone},
		{"equal across zones", t0, t0.In(time.FixedZone("CEST", 2*60*60)), ResolutionNone},
		{"remote newer", t0, t0.Add(time.Second), ResolutionPull},
		{"local newer", t0.Add(time.Second), t0, ResolutionPush},
		{"never synced locally", time.Time{}, t0, ResolutionPull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.local, tt.remote))
		})
	}
}

func TestResolution_String(t *testing.T) {
	assert.Equal(t, "none", ResolutionNone.String())
	assert.Equal(t, "pull", ResolutionPull.String())
	assert.Equal(t, "push", ResolutionPush.String())
	assert.Equal(t, "unknown", Resolution(42).String())
}
