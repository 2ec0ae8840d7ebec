package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ptbhub/pkg/models"
)

func TestOccurrences_Counts(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		freq  models.RepeatFrequency
		count int
		last  time.Time
	}{
		{models.RepeatHourly, 24, start.Add(24 * time.Hour)},
		{models.RepeatDaily, 365, time.Date(2027, 3, 2, 10, 0, 0, 0, time.UTC)},
		{models.RepeatWeekly, 52, time.Date(2027, 3, 1, 10, 0, 0, 0, time.UTC)},
		{models.RepeatMonthly, 12, time.Date(2027, 3, 2, 10, 0, 0, 0, time.UTC)},
		{models.RepeatYearly, 5, time.Date(2031, 3, 2, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.freq), func(t *testing.T) {
			got, err := Occurrences(tt.freq, start)
			require.NoError(t, err)
			require.Len(t, got, tt.count)
			assert.Equal(t, tt.last, got[len(got)-1])
			assert.True(t, got[0].After(start))
		})
	}
}

func TestOccurrences_UnknownFrequency(t *testing.T) {
	_, err := Occurrences(models.RepeatFrequency("fortnightly"), time.Now())
	assert.Error(t, err)
	_, err = Horizon(models.RepeatNone, time.Now())
	assert.Error(t, err)
}

func TestOccurrences_MonthlyClampsWithoutDrift(t *testing.T) {
	start := time.Date(2026, 1, 31, 9, 30, 0, 0, time.UTC)

	got, err := Occurrences(models.RepeatMonthly, start)
	require.NoError(t, err)

	days := make([]int, 0, len(got))
	for _, d := range got {
		days = append(days, d.Day())
		assert.Equal(t, 9, d.Hour())
		assert.Equal(t, 30, d.Minute())
	}
	// Feb, Mar, Apr, May, Jun, Jul, Aug, Sep, Oct, Nov, Dec, Jan
	assert.Equal(t, []int{28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31, 31}, days)
}

func TestOccurrences_YearlyLeapDay(t *testing.T) {
	start := time.Date(2028, 2, 29, 8, 0, 0, 0, time.UTC)

	got, err := Occurrences(models.RepeatYearly, start)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, time.Date(2029, 2, 28, 8, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, time.Date(2032, 2, 29, 8, 0, 0, 0, time.UTC), got[3])
}

func TestExpand_InheritsParent(t *testing.T) {
	agent := int64(4)
	project := int64(9)
	creator := int64(1)
	parent := &models.CalendarEvent{
		ID:              100,
		Title:           "Standup",
		Description:     "daily sync",
		Type:            models.EventMeeting,
		Status:          "scheduled",
		Start:           time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		End:             time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC),
		Location:        "Room A",
		Color:           "#00ff00",
		CreatedByID:     &creator,
		AssignedTo:      []int64{2, 3},
		MeetingURL:      "https://meet.example/standup",
		ProjectID:       &project,
		AgentID:         &agent,
		IsRepeating:     true,
		RepeatFrequency: models.RepeatHourly,
	}

	children, err := Expand(parent)
	require.NoError(t, err)
	require.Len(t, children, 24)

	c := children[0]
	assert.Equal(t, "Standup", c.Title)
	assert.Equal(t, "daily sync", c.Description)
	assert.Equal(t, models.EventMeeting, c.Type)
	assert.Equal(t, "Room A", c.Location)
	assert.Equal(t, "https://meet.example/standup", c.MeetingURL)
	assert.Equal(t, &project, c.ProjectID)
	assert.Equal(t, &agent, c.AgentID)
	assert.Equal(t, &creator, c.CreatedByID)
	assert.Equal(t, []int64{2, 3}, c.AssignedTo)
	assert.False(t, c.IsRepeating)
	assert.Equal(t, models.RepeatNone, c.RepeatFrequency)
	require.NotNil(t, c.ParentEventID)
	assert.Equal(t, int64(100), *c.ParentEventID)
	assert.Equal(t, parent.Start.Add(time.Hour), c.Start)
	assert.Equal(t, 15*time.Minute, c.End.Sub(c.Start))

	c.AssignedTo[0] = 99
	assert.Equal(t, []int64{2, 3}, parent.AssignedTo)
}

func TestExpand_NonRepeatingAndUnsaved(t *testing.T) {
	children, err := Expand(&models.CalendarEvent{ID: 1})
	require.NoError(t, err)
	assert.Nil(t, children)

	_, err = Expand(&models.CalendarEvent{IsRepeating: true, RepeatFrequency: models.RepeatDaily})
	assert.Error(t, err)
}
