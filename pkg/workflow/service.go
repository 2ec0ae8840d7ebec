// Package workflow applies the status transitions of purchase requests and
// user reports and the membership of task groups. Each change runs in one
// transaction and emits its notifications there, so they are pushed only
// after commit.
package workflow

import (
	"context"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/signals"
)

// PurchaseStore persists purchase requests
type PurchaseStore interface {
	GetForUpdate(ctx context.Context, id int64) (*models.PurchaseRequest, error)
	Create(ctx context.Context, p *models.PurchaseRequest) error
	UpdateStatus(ctx context.Context, id int64, status models.PurchaseStatus) error
}

// ReportStore persists user report status
type ReportStore interface {
	GetForUpdate(ctx context.Context, id int64) (*models.UserReport, error)
	UpdateStatus(ctx context.Context, id int64, status models.ReportStatus) error
}

// GroupStore persists task group membership
type GroupStore interface {
	GetGroup(ctx context.Context, id int64) (*models.TaskGroup, error)
	AddGroupMembers(ctx context.Context, groupID int64, userIDs []int64) ([]int64, error)
}

// Notifier sends the status notifications that need the prior status
type Notifier interface {
	PurchaseStatusChanged(ctx context.Context, pr *models.PurchaseRequest, previous models.PurchaseStatus) ([]*models.Notification, error)
	ReportStatusChanged(ctx context.Context, report *models.UserReport, previous models.ReportStatus, actorID int64) ([]*models.Notification, error)
}

// Publisher publishes signals after commit
type Publisher interface {
	Publish(ctx context.Context, sig signals.Signal)
}

// TxRunner scopes a unit of work to one transaction
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PurchaseInput is the body of a new purchase request
type PurchaseInput struct {
	Title           string `json:"title" validate:"required,max=200"`
	OwnerEmployeeID *int64 `json:"owner_employee" validate:"omitempty,gt=0"`
	OwnerUsername   string `json:"owner_username" validate:"max=150"`
	OwnerName       string `json:"owner_name" validate:"max=200"`
}

// Deps wires the service
type Deps struct {
	Tx        TxRunner
	Purchases PurchaseStore
	Reports   ReportStore
	Groups    GroupStore
	Notifier  Notifier
	Bus       Publisher
	Logger    *observability.Logger
}

// Service runs the purchase, report and task group workflows
type Service struct {
	Deps
}

// NewService creates the service
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = observability.NopLogger()
	}
	return &Service{Deps: d}
}

var errAdminOnly = apperrors.PermissionDenied("Only administrators can change the status.")

// CreatePurchase files a pending purchase request; admins are notified
// through the purchase signal
func (s *Service) CreatePurchase(ctx context.Context, in PurchaseInput, p auth.Principal) (*models.PurchaseRequest, error) {
	creator := p.ID()
	pr := &models.PurchaseRequest{
		Title:           in.Title,
		OwnerEmployeeID: in.OwnerEmployeeID,
		OwnerUsername:   in.OwnerUsername,
		OwnerName:       in.OwnerName,
		Status:          models.PurchasePending,
		CreatedByID:     &creator,
	}
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.Purchases.Create(ctx, pr); err != nil {
			return err
		}
		s.Bus.Publish(ctx, signals.PurchaseSaved{Request: pr, Created: true})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pr, nil
}

// SetPurchaseStatus moves a purchase request to status and notifies its
// owner when the status is terminal
func (s *Service) SetPurchaseStatus(ctx context.Context, id int64, status models.PurchaseStatus, p auth.Principal) (*models.PurchaseRequest, error) {
	if !auth.IsAdmin(p) {
		return nil, errAdminOnly
	}
	var pr *models.PurchaseRequest
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		pr, err = s.Purchases.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		previous := pr.Status
		if previous == status {
			return nil
		}
		if err := s.Purchases.UpdateStatus(ctx, id, status); err != nil {
			return err
		}
		pr.Status = status
		if _, err := s.Notifier.PurchaseStatusChanged(ctx, pr, previous); err != nil {
			return err
		}
		s.Bus.Publish(ctx, signals.PurchaseSaved{Request: pr})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.WithFields(map[string]interface{}{
		"purchase_id": id, "status": string(status), "actor_id": p.ID(),
	}).Info("purchase request status set")
	return pr, nil
}

// SetReportStatus moves a user report to status and notifies its reporter
func (s *Service) SetReportStatus(ctx context.Context, id int64, status models.ReportStatus, p auth.Principal) (*models.UserReport, error) {
	if !auth.IsAdmin(p) {
		return nil, errAdminOnly
	}
	var r *models.UserReport
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.Reports.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		previous := r.Status
		if previous == status {
			return nil
		}
		if err := s.Reports.UpdateStatus(ctx, id, status); err != nil {
			return err
		}
		r.Status = status
		_, err = s.Notifier.ReportStatusChanged(ctx, r, previous, p.ID())
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// AddGroupMembers adds users to a task group. Only users that were not
// members before are announced.
func (s *Service) AddGroupMembers(ctx context.Context, groupID int64, userIDs []int64, p auth.Principal) (*models.TaskGroup, error) {
	if len(userIDs) == 0 {
		return nil, apperrors.FieldError("members", "This list may not be empty.")
	}
	var g *models.TaskGroup
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		g, err = s.Groups.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		added, err := s.Groups.AddGroupMembers(ctx, groupID, userIDs)
		if err != nil {
			return err
		}
		if len(added) == 0 {
			return nil
		}
		g.MemberIDs = append(g.MemberIDs, added...)
		s.Bus.Publish(ctx, signals.GroupMembersAdded{
			Group: g,
			Added: added,
			Actor: signals.Actor{ID: p.ID(), Name: p.DisplayName()},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}
