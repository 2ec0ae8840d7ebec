package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/httputil"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/rbac"
	"github.com/platinummonkey/ptbhub/pkg/workflow"
)

// WorkflowService applies purchase, report and task group changes
type WorkflowService interface {
	CreatePurchase(ctx context.Context, in workflow.PurchaseInput, p auth.Principal) (*models.PurchaseRequest, error)
	SetPurchaseStatus(ctx context.Context, id int64, status models.PurchaseStatus, p auth.Principal) (*models.PurchaseRequest, error)
	SetReportStatus(ctx context.Context, id int64, status models.ReportStatus, p auth.Principal) (*models.UserReport, error)
	AddGroupMembers(ctx context.Context, groupID int64, userIDs []int64, p auth.Principal) (*models.TaskGroup, error)
}

// WorkflowHandlers serves the status and membership endpoints
type WorkflowHandlers struct {
	service WorkflowService
}

// NewWorkflowHandlers creates the handlers
func NewWorkflowHandlers(service WorkflowService) *WorkflowHandlers {
	return &WorkflowHandlers{service: service}
}

// RegisterRoutes registers workflow routes
func (h *WorkflowHandlers) RegisterRoutes(router *mux.Router, guard Guard) {
	router.Handle("/purchase-requests/", guard(rbac.ResourcePurchasing, h.createPurchase)).Methods(http.MethodPost)
	router.Handle("/purchase-requests/{id:[0-9]+}/status/", guard(rbac.ResourcePurchasing, h.purchaseStatus)).Methods(http.MethodPatch)
	router.Handle("/user-reports/{id:[0-9]+}/status/", guard(rbac.ResourceReports, h.reportStatus)).Methods(http.MethodPatch)
	router.Handle("/task-groups/{id:[0-9]+}/members/", guard(rbac.ResourceKanban, h.addGroupMembers)).Methods(http.MethodPost)
}

// createPurchase handles POST /api/v1/purchase-requests/
func (h *WorkflowHandlers) createPurchase(w http.ResponseWriter, r *http.Request) {
	var in workflow.PurchaseInput
	if err := httputil.ParseAndValidate(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	pr, err := h.service.CreatePurchase(r.Context(), in, p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, pr)
}

type purchaseStatusRequest struct {
	Status models.PurchaseStatus `json:"status" validate:"required,oneof=pending ordered done canceled"`
}

// purchaseStatus handles PATCH /api/v1/purchase-requests/{id}/status/
func (h *WorkflowHandlers) purchaseStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var req purchaseStatusRequest
	if err := httputil.ParseAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	pr, err := h.service.SetPurchaseStatus(r.Context(), id, req.Status, p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, pr)
}

type reportStatusRequest struct {
	Status models.ReportStatus `json:"status" validate:"required,oneof=open in_progress resolved closed"`
}

// reportStatus handles PATCH /api/v1/user-reports/{id}/status/
func (h *WorkflowHandlers) reportStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var req reportStatusRequest
	if err := httputil.ParseAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	report, err := h.service.SetReportStatus(r.Context(), id, req.Status, p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, report)
}

type groupMembersRequest struct {
	Members []int64 `json:"members" validate:"required,min=1,dive,gt=0"`
}

// addGroupMembers handles POST /api/v1/task-groups/{id}/members/
func (h *WorkflowHandlers) addGroupMembers(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var req groupMembersRequest
	if err := httputil.ParseAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	g, err := h.service.AddGroupMembers(r.Context(), id, req.Members, p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, g)
}
