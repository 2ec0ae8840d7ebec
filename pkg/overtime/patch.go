package overtime

import (
	"context"

	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

// Patch is a partial update; nil fields keep their stored value
type Patch struct {
	EmployeeID  *int64                 `json:"employee" validate:"omitempty,gt=0"`
	ProjectID   *int64                 `json:"project" validate:"omitempty,gt=0"`
	RequestDate *string                `json:"request_date"`
	TimeStart   *string                `json:"time_start"`
	TimeEnd     *string                `json:"time_end"`
	TotalHours  *float64               `json:"total_hours" validate:"omitempty,gt=0,lte=24"`
	Breaks      []models.Break         `json:"breaks" validate:"omitempty,dive"`
	Reason      *string                `json:"reason" validate:"omitempty,max=500"`
	Detail      *string                `json:"detail" validate:"omitempty,max=2000"`
	Status      *models.OvertimeStatus `json:"status" validate:"omitempty,oneof=pending approved rejected"`
}

// InputFrom is the writable shape of a stored request
func InputFrom(o *models.OvertimeRequest) Input {
	hours := o.TotalHours
	return Input{
		EmployeeID:  o.EmployeeID,
		ProjectID:   o.ProjectID,
		RequestDate: o.RequestDate.Format(dateLayout),
		TimeStart:   o.TimeStart,
		TimeEnd:     o.TimeEnd,
		TotalHours:  &hours,
		Breaks:      o.Breaks,
		Reason:      o.Reason,
		Detail:      o.Detail,
	}
}

// apply overlays the set fields on in. Changing the times or breaks without
// total_hours recomputes the total.
func (pt Patch) apply(in Input) Input {
	if pt.EmployeeID != nil {
		in.EmployeeID = *pt.EmployeeID
	}
	if pt.ProjectID != nil {
		in.ProjectID = *pt.ProjectID
	}
	if pt.RequestDate != nil {
		in.RequestDate = *pt.RequestDate
	}
	if pt.TimeStart != nil || pt.TimeEnd != nil || pt.Breaks != nil {
		in.TotalHours = nil
	}
	if pt.TimeStart != nil {
		in.TimeStart = *pt.TimeStart
	}
	if pt.TimeEnd != nil {
		in.TimeEnd = *pt.TimeEnd
	}
	if pt.Breaks != nil {
		in.Breaks = pt.Breaks
	}
	if pt.TotalHours != nil {
		in.TotalHours = pt.TotalHours
	}
	if pt.Reason != nil {
		in.Reason = *pt.Reason
	}
	if pt.Detail != nil {
		in.Detail = *pt.Detail
	}
	if pt.Status != nil {
		in.Status = *pt.Status
	}
	return in
}

// Patch updates the fields set in pt, merging with the row read under lock
func (s *Service) Patch(ctx context.Context, id int64, pt Patch, p auth.Principal) (*models.OvertimeRequest, error) {
	return s.update(ctx, id, p, func(old *models.OvertimeRequest) Input {
		return pt.apply(InputFrom(old))
	})
}
