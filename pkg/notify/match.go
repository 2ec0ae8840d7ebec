package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/signals"
)

// UserDirectory looks users up
type UserDirectory interface {
	ListByIDs(ctx context.Context, ids []int64) ([]*models.User, error)
	ListPTBAdmins(ctx context.Context) ([]*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	FindByWorkerID(ctx context.Context, empID string) ([]*models.User, error)
	FindByFullName(ctx context.Context, name string) ([]*models.User, error)
}

// EmployeeDirectory looks employees up and provisions missing ones
type EmployeeDirectory interface {
	GetEmployee(ctx context.Context, id int64) (*models.Employee, error)
	GetEmployeeByEmpID(ctx context.Context, empID string) (*models.Employee, error)
	FindEmployeesByName(ctx context.Context, name string) ([]*models.Employee, error)
	FindEmployeesNameContains(ctx context.Context, fragment string) ([]*models.Employee, error)
	GetOrCreateEmployee(ctx context.Context, empID, name string) (*models.Employee, bool, error)
}

// Publisher announces provisioned employees
type Publisher interface {
	Publish(ctx context.Context, sig signals.Signal)
}

// Matcher maps between users and employee records
type Matcher struct {
	users     UserDirectory
	employees EmployeeDirectory
	bus       Publisher
	logger    *observability.Logger
}

// MatcherOption configures a Matcher
type MatcherOption func(*Matcher)

// WithPublisher announces provisioned employees on bus
func WithPublisher(bus Publisher) MatcherOption {
	return func(m *Matcher) { m.bus = bus }
}

// NewMatcher creates a matcher
func NewMatcher(users UserDirectory, employees EmployeeDirectory, logger *observability.Logger, opts ...MatcherOption) *Matcher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	m := &Matcher{users: users, employees: employees, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func ignoreNotFound(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}

// UserForEmployee finds the login of an employee. It returns nil when no
// user matches.
func (m *Matcher) UserForEmployee(ctx context.Context, emp *models.Employee) (*models.User, error) {
	if emp == nil {
		return nil, nil
	}
	if emp.EmpID != "" {
		users, err := m.users.FindByWorkerID(ctx, emp.EmpID)
		if err != nil {
			return nil, err
		}
		if len(users) > 0 {
			return users[0], nil
		}
	}
	name := strings.TrimSpace(emp.Name)
	if name == "" {
		return nil, nil
	}
	users, err := m.users.FindByFullName(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(users) > 0 {
		return users[0], nil
	}
	u, err := m.users.GetByUsername(ctx, strings.ReplaceAll(strings.ToLower(name), " ", "_"))
	if err != nil {
		return nil, ignoreNotFound(err)
	}
	if !u.IsActive {
		return nil, nil
	}
	return u, nil
}

// EmployeeForUser finds the employee record of a user, provisioning one
// when nothing matches
func (m *Matcher) EmployeeForUser(ctx context.Context, u *models.User) (*models.Employee, error) {
	if u.WorkerID != "" {
		emp, err := m.employees.GetEmployeeByEmpID(ctx, u.WorkerID)
		if err == nil {
			return emp, nil
		}
		if ignoreNotFound(err) != nil {
			return nil, err
		}
	}

	lookups := []func() ([]*models.Employee, error){
		func() ([]*models.Employee, error) { return m.employees.FindEmployeesByName(ctx, u.FullName()) },
		func() ([]*models.Employee, error) { return m.employees.FindEmployeesByName(ctx, u.DerivedName()) },
		func() ([]*models.Employee, error) { return m.employees.FindEmployeesNameContains(ctx, u.DerivedName()) },
	}
	for _, lookup := range lookups {
		found, err := lookup()
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return found[0], nil
		}
	}

	empID := u.WorkerID
	if empID == "" {
		empID = u.Username
	}
	emp, created, err := m.employees.GetOrCreateEmployee(ctx, empID, u.DisplayName())
	if err != nil {
		return nil, err
	}
	if created {
		m.logger.WithFields(map[string]interface{}{
			"user_id": u.ID,
			"emp_id":  empID,
		}).Info("provisioned employee record for user")
		if m.bus != nil {
			m.bus.Publish(ctx, signals.EmployeeChanged{EmployeeID: emp.ID})
		}
	}
	return emp, nil
}

// ResolveOwner finds the user behind a purchase request: owner employee,
// then exact username, then exact full name
func (m *Matcher) ResolveOwner(ctx context.Context, pr *models.PurchaseRequest) (*models.User, error) {
	if pr.OwnerEmployeeID != nil {
		emp, err := m.employees.GetEmployee(ctx, *pr.OwnerEmployeeID)
		if err := ignoreNotFound(err); err != nil {
			return nil, err
		}
		if emp != nil {
			u, err := m.UserForEmployee(ctx, emp)
			if err != nil || u != nil {
				return u, err
			}
		}
	}
	if pr.OwnerUsername != "" {
		u, err := m.users.GetByUsername(ctx, pr.OwnerUsername)
		if err == nil && u.IsActive {
			return u, nil
		}
		if ignoreNotFound(err) != nil {
			return nil, err
		}
	}
	if pr.OwnerName != "" {
		users, err := m.users.FindByFullName(ctx, pr.OwnerName)
		if err != nil {
			return nil, err
		}
		if len(users) > 0 {
			return users[0], nil
		}
	}
	return nil, nil
}
