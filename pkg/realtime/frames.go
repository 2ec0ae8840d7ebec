package realtime

import (
	"time"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/auth"
)

// Frame is an outbound JSON object keyed by field name
type Frame map[string]interface{}

// actorFrame starts a frame carrying the actor and a UTC timestamp
func actorFrame(typ string, p auth.Principal, now time.Time) Frame {
	return Frame{
		"type":      typ,
		"user_id":   p.ID(),
		"user_name": p.DisplayName(),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
}

func requireID(field string, v *int64) (int64, error) {
	if v == nil {
		return 0, apperrors.FieldError(field, "This field is required.")
	}
	if *v <= 0 {
		return 0, apperrors.FieldError(field, "must be a positive integer")
	}
	return *v, nil
}

func unknownType(typ string) error {
	return apperrors.Invalid(ErrUnknownType + ": " + truncate(typ, 50))
}
