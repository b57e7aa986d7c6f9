package agile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSprintMath(t *testing.T) {
	assert.Equal(t, 38, completionPercentage(3, 8))
	assert.Equal(t, 0, completionPercentage(0, 0))
	assert.Equal(t, 300, completionPercentage(3, 0), "planned points are floored at one")

	start := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	assert.InDelta(t, 3.0, velocity(3, start, start), 0.001, "same day counts as one")
	assert.InDelta(t, 1.5, velocity(3, start, start.Add(47*time.Hour)), 0.001)
	assert.Equal(t, 1, calendarDays(start.Add(10*time.Hour), start.Add(16*time.Hour)))
}

func TestElapsedFraction(t *testing.T) {
	start := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	settings := BoardSettings{MaxColumns: 20, DefaultSprintDays: 10}

	planning := &Sprint{Status: SprintPlanning}
	assert.Zero(t, elapsedFraction(planning, settings, start))

	open := &Sprint{Status: SprintActive, StartDate: &start}
	assert.InDelta(t, 30.0, elapsedFraction(open, settings, start.Add(3*24*time.Hour)), 1e-9, "default length applies without an end date")
	assert.InDelta(t, 100.0, elapsedFraction(open, settings, start.Add(30*24*time.Hour)), 1e-9)
	assert.Zero(t, elapsedFraction(open, settings, start.Add(-time.Hour)))

	end := start.Add(1000 * time.Hour)
	long := &Sprint{Status: SprintActive, StartDate: &start, EndDate: &end}
	assert.InDelta(t, 40.4, elapsedFraction(long, settings, start.Add(404*time.Hour)), 1e-9, "not rounded")

	same := &Sprint{Status: SprintActive, StartDate: &start, EndDate: &start}
	assert.InDelta(t, 100.0, elapsedFraction(same, settings, start), 1e-9)
}

func TestVelocityIsExact(t *testing.T) {
	start := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, 10.0/3.0, velocity(10, start, start.AddDate(0, 0, 3)))
}

func TestValidateSprintDates(t *testing.T) {
	start := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	ok := start.AddDate(0, 0, maxSprintDays)
	tooLong := start.AddDate(0, 0, maxSprintDays+1)
	before := start.AddDate(0, 0, -1)

	assert.NoError(t, validateSprintDates("create", &start, &ok))
	assert.NoError(t, validateSprintDates("create", nil, &tooLong))
	assert.ErrorIs(t, validateSprintDates("create", &start, &tooLong), ErrInvalidInput)
	assert.ErrorIs(t, validateSprintDates("create", &start, &before), ErrInvalidInput)
}

func TestBurndownIsBounded(t *testing.T) {
	start := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	end := start.AddDate(30, 0, 0)
	s := &Sprint{ID: "s", Status: SprintActive, StartDate: &start, EndDate: &end, PlannedStoryPoints: 10}
	items := []*BacklogItem{{ID: "a", Status: StatusReady, StoryPoints: intPtr(10)}}

	points := burndownOf(s, DefaultBoardSettings(), items, start)
	assert.Len(t, points, maxBurndownDays+1)
	assert.InDelta(t, 10.0, points[0].Ideal, 0.001)
}

func TestProgressOnTrackBand(t *testing.T) {
	start := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(10 * 24 * time.Hour)
	s := &Sprint{ID: "s", Status: SprintActive, StartDate: &start, EndDate: &end, PlannedStoryPoints: 10}
	items := []*BacklogItem{
		{ID: "a", Status: StatusDone, StoryPoints: intPtr(3)},
		{ID: "b", Status: StatusReady, StoryPoints: intPtr(7)},
	}

	// 40% elapsed, 30% complete: exactly on the edge of the band.
	p := progressOf(s, DefaultBoardSettings(), items, start.Add(4*24*time.Hour))
	assert.Equal(t, 40, p.ElapsedPercentage)
	assert.Equal(t, 30, p.CompletionPercentage)
	assert.True(t, p.OnTrack)

	p = progressOf(s, DefaultBoardSettings(), items, start.Add(5*24*time.Hour))
	assert.False(t, p.OnTrack)
	assert.Equal(t, 7, p.RemainingPoints)
}

func TestProgressOnTrackUsesUnroundedElapsed(t *testing.T) {
	start := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(1000 * time.Hour)
	s := &Sprint{ID: "s", Status: SprintActive, StartDate: &start, EndDate: &end, PlannedStoryPoints: 100}
	items := []*BacklogItem{
		{ID: "a", Status: StatusDone, StoryPoints: intPtr(30)},
		{ID: "b", Status: StatusReady, StoryPoints: intPtr(70)},
	}

	// 40.4% elapsed is reported as 40, but 30% done is outside the band.
	p := progressOf(s, DefaultBoardSettings(), items, start.Add(404*time.Hour))
	assert.Equal(t, 40, p.ElapsedPercentage)
	assert.Equal(t, 30, p.CompletionPercentage)
	assert.False(t, p.OnTrack)

	p = progressOf(s, DefaultBoardSettings(), items, start.Add(400*time.Hour))
	assert.True(t, p.OnTrack)
}
