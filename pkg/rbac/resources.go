package rbac

// Resource keys declared by handlers
const (
	ResourceOvertimeForm    = "overtime_form"
	ResourceOvertimeHistory = "overtime_history"
	ResourceCalendar        = "calendar"
	ResourceCalendarEvents  = "calendar_events"
	ResourceKanban          = "kanban"
	ResourcePurchasing      = "purchasing"
	ResourceAssets          = "assets"
	ResourceProjects        = "projects"
	ResourceDepartments     = "departments"
	ResourceEmployees       = "employees"
	ResourceRegulations     = "regulations"
	ResourceUsers           = "users"
	ResourceReports         = "user_reports"
	ResourceSMBSettings     = "smb_settings"
)

var builtinAliases = [][2]string{
	{ResourceEmployees, "admin_employees"},
	{ResourceOvertimeForm, "ot_form"},
	{ResourceOvertimeHistory, "ot_history"},
	{ResourceKanban, "task_board"},
	{ResourcePurchasing, "purchase_requests"},
	{ResourceAssets, "asset_management"},
	{ResourceProjects, "admin_projects"},
	{ResourceDepartments, "admin_departments"},
	{ResourceUsers, "access_control"},
	{ResourceReports, "reports"},
}

var defaultCRUD = []string{
	ResourceOvertimeForm,
	ResourceCalendar,
	ResourceKanban,
	ResourceCalendarEvents,
	ResourcePurchasing,
	ResourceAssets,
}

var defaultReadOnly = []string{
	ResourceOvertimeHistory,
	ResourceProjects,
	ResourceDepartments,
	ResourceEmployees,
	ResourceRegulations,
}
