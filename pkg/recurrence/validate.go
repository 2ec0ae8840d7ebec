package recurrence

import (
	"regexp"
	"strings"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Validate checks an event before it is written
func Validate(e *models.CalendarEvent) error {
	var v apperrors.Validation

	if strings.TrimSpace(e.Title) == "" {
		v.Add("title", "This field may not be blank.")
	}
	if !e.Type.Valid() {
		v.Add("event_type", "\""+string(e.Type)+"\" is not a valid choice.")
	}
	if e.Start.IsZero() {
		v.Add("start", "This field is required.")
	}
	if e.End.IsZero() {
		v.Add("end", "This field is required.")
	}
	if !e.Start.IsZero() && !e.End.IsZero() && e.Start.After(e.End) {
		v.Add("end", "End time must be after start time.")
	}
	if e.Color != "" && !hexColor.MatchString(e.Color) {
		v.Add("color", "Enter a color as #RGB or #RRGGBB.")
	}
	if _, err := models.ParseRepeatFrequency(string(e.RepeatFrequency)); err != nil {
		v.Add("repeat_frequency", "\""+string(e.RepeatFrequency)+"\" is not a valid choice.")
	} else if e.IsRepeating && e.RepeatFrequency == models.RepeatNone {
		v.Add("repeat_frequency", "A repeating event needs a frequency.")
	}
	if e.IsChild() && e.IsRepeating {
		v.Add("is_repeating", "A recurring instance cannot repeat.")
	}

	if v.HasErrors() {
		return v.Err()
	}
	return nil
}
