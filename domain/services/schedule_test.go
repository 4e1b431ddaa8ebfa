package services_test

import (
	"testing"
	"time"

	"matrixfund/domain/entities"
	"matrixfund/domain/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedule(t *testing.T) {
	tests := []struct {
		name    string
		specs   map[entities.PoolType]string
		wantErr bool
		jobs    []entities.PoolType
	}{
		{
			name: "all jobs in priority order",
			specs: map[entities.PoolType]string{
				entities.PoolTypeClub:        "0 0 1 * *",
				entities.PoolTypeLeaderBonus: "0 0 1,16 * *",
				entities.PoolTypeGlobalHelp:  "@every 168h",
			},
			jobs: []entities.PoolType{entities.PoolTypeGlobalHelp, entities.PoolTypeLeaderBonus, entities.PoolTypeClub},
		},
		{
			name:  "empty spec disables a job",
			specs: map[entities.PoolType]string{entities.PoolTypeGlobalHelp: "@weekly", entities.PoolTypeClub: ""},
			jobs:  []entities.PoolType{entities.PoolTypeGlobalHelp},
		},
		{
			name:    "malformed spec",
			specs:   map[entities.PoolType]string{entities.PoolTypeGlobalHelp: "every tuesday"},
			wantErr: true,
		},
		{
			name:    "unknown job",
			specs:   map[entities.PoolType]string{"lottery": "@daily"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			schedule, err := services.NewSchedule(tt.specs, time.Hour)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.jobs, schedule.Jobs())
		})
	}
}

func TestSchedule_IsDue(t *testing.T) {
	schedule, err := services.NewSchedule(map[entities.PoolType]string{
		entities.PoolTypeGlobalHelp:  "@every 168h",
		entities.PoolTypeLeaderBonus: "0 0 1,16 * *",
	}, time.Hour)
	require.NoError(t, err)

	last := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)

	next, ok := schedule.NextDue(entities.PoolTypeGlobalHelp, last)
	require.True(t, ok)
	assert.Equal(t, last.Add(169*time.Hour), next)

	next, ok = schedule.NextDue(entities.PoolTypeLeaderBonus, last)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, time.March, 16, 1, 0, 0, 0, time.UTC), next)

	_, ok = schedule.NextDue(entities.PoolTypeClub, last)
	assert.False(t, ok)

	tests := []struct {
		name string
		job  entities.PoolType
		now  time.Time
		want bool
	}{
		{"before slot", entities.PoolTypeGlobalHelp, last.Add(168 * time.Hour), false},
		{"inside buffer", entities.PoolTypeGlobalHelp, last.Add(168*time.Hour + 30*time.Minute), false},
		{"exactly at slot plus buffer", entities.PoolTypeGlobalHelp, last.Add(169 * time.Hour), false},
		{"just after", entities.PoolTypeGlobalHelp, last.Add(169*time.Hour + time.Second), true},
		{"leader on the 16th after buffer", entities.PoolTypeLeaderBonus, time.Date(2025, time.March, 16, 1, 0, 1, 0, time.UTC), true},
		{"leader before the 16th", entities.PoolTypeLeaderBonus, time.Date(2025, time.March, 15, 23, 0, 0, 0, time.UTC), false},
		{"unscheduled job", entities.PoolTypeClub, last.AddDate(1, 0, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, schedule.IsDue(tt.job, last, tt.now))
		})
	}
}

func TestSchedule_SlotsAreUTC(t *testing.T) {
	schedule, err := services.NewSchedule(map[entities.PoolType]string{
		entities.PoolTypeLeaderBonus: "0 0 1,16 * *",
		entities.PoolTypeClub:        "CRON_TZ=UTC 0 0 1 * *",
	}, 0)
	require.NoError(t, err)

	// the same instant seen from a zone east of UTC
	east := time.FixedZone("UTC+5", 5*60*60)
	last := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)

	want := time.Date(2025, time.March, 16, 0, 0, 0, 0, time.UTC)
	for _, from := range []time.Time{last, last.In(east)} {
		next, ok := schedule.NextDue(entities.PoolTypeLeaderBonus, from)
		require.True(t, ok)
		assert.True(t, want.Equal(next), "next slot %s", next)
	}

	// one second before midnight UTC, already the 16th in UTC+5
	assert.False(t, schedule.IsDue(entities.PoolTypeLeaderBonus, last.In(east), want.Add(-time.Second).In(east)))
	assert.True(t, schedule.IsDue(entities.PoolTypeLeaderBonus, last.In(east), want.Add(time.Second).In(east)))

	next, ok := schedule.NextDue(entities.PoolTypeClub, last.In(east))
	require.True(t, ok)
	assert.True(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC).Equal(next), "next slot %s", next)
}
