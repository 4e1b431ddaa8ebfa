package services

import (
	"fmt"
	"strings"
	"time"

	"matrixfund/domain/entities"

	"github.com/robfig/cron/v3"
)

// Schedule decides when each distribution job is due
type Schedule struct {
	jobs   map[entities.PoolType]cron.Schedule
	order  []entities.PoolType
	buffer time.Duration
}

// NewSchedule parses one cron spec per job. Standard five-field specs and
// descriptors such as "@every 168h" are accepted. Specs are read in UTC unless
// they carry their own CRON_TZ prefix.
func NewSchedule(specs map[entities.PoolType]string, buffer time.Duration) (*Schedule, error) {
	s := &Schedule{
		jobs:   make(map[entities.PoolType]cron.Schedule, len(specs)),
		buffer: buffer,
	}
	for _, job := range entities.AllPoolTypes() {
		spec, ok := specs[job]
		if !ok || spec == "" {
			continue
		}
		parsed, err := cron.ParseStandard(inUTC(spec))
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", spec, job, err)
		}
		s.jobs[job] = parsed
		s.order = append(s.order, job)
	}
	for job := range specs {
		if !job.IsValid() {
			return nil, fmt.Errorf("unknown distribution job %q", job)
		}
	}
	return s, nil
}

func inUTC(spec string) string {
	if strings.HasPrefix(spec, "CRON_TZ=") || strings.HasPrefix(spec, "TZ=") {
		return spec
	}
	return "CRON_TZ=UTC " + spec
}

// Jobs returns the scheduled jobs in priority order
func (s *Schedule) Jobs() []entities.PoolType {
	return s.order
}

// NextDue returns the earliest moment after which the job may run again
func (s *Schedule) NextDue(job entities.PoolType, last time.Time) (time.Time, bool) {
	schedule, ok := s.jobs[job]
	if !ok {
		return time.Time{}, false
	}
	return schedule.Next(last.UTC()).Add(s.buffer), true
}

// IsDue reports whether now is strictly past the job's next slot plus the buffer
func (s *Schedule) IsDue(job entities.PoolType, last, now time.Time) bool {
	next, ok := s.NextDue(job, last)
	if !ok {
		return false
	}
	return now.After(next)
}
