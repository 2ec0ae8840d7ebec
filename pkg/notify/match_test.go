package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/signals"
)

func TestEmployeeForUserPriority(t *testing.T) {
	emps := newFakeEmployees(
		&models.Employee{ID: 1, EmpID: "W-1", Name: "Someone Else"},
		&models.Employee{ID: 2, EmpID: "E-2", Name: "Ada Smith"},
		&models.Employee{ID: 3, EmpID: "E-3", Name: "grace hopper"},
		&models.Employee{ID: 4, EmpID: "E-4", Name: "Mr Alan Turing Jr"},
	)
	m := NewMatcher(newFakeUsers(), emps, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		user *models.User
		want int64
	}{
		{"worker id wins over name", &models.User{Username: "ada", WorkerID: "W-1", FirstName: "Ada", LastName: "Smith"}, 1},
		{"full name", &models.User{Username: "asmith", FirstName: "ADA", LastName: "smith"}, 2},
		{"derived name", &models.User{Username: "Grace_Hopper"}, 3},
		{"contains derived name", &models.User{Username: "alan_turing"}, 4},
		{"unknown worker id falls through", &models.User{Username: "x", WorkerID: "W-404", FirstName: "Ada", LastName: "Smith"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emp, err := m.EmployeeForUser(ctx, tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, emp.ID)
		})
	}
	assert.Empty(t, emps.provisioned)
}

func TestEmployeeForUserProvisions(t *testing.T) {
	emps := newFakeEmployees()
	m := NewMatcher(newFakeUsers(), emps, nil)

	emp, err := m.EmployeeForUser(context.Background(), &models.User{Username: "new_hire", FirstName: "New", LastName: "Hire", WorkerID: "E-900"})
	require.NoError(t, err)
	assert.Equal(t, "E-900", emp.EmpID)
	assert.Equal(t, "New Hire", emp.Name)
	assert.True(t, emp.IsEnabled)

	emp, err = m.EmployeeForUser(context.Background(), &models.User{Username: "zed"})
	require.NoError(t, err)
	assert.Equal(t, "zed", emp.EmpID)
	assert.Equal(t, []string{"E-900", "zed"}, emps.provisioned)
}

func TestEmployeeForUserPublishesProvisioned(t *testing.T) {
	emps := newFakeEmployees(&models.Employee{ID: 2, EmpID: "E-2", Name: "Ada Smith"})
	bus := &recordingBus{}
	m := NewMatcher(newFakeUsers(), emps, nil, WithPublisher(bus))
	ctx := context.Background()

	_, err := m.EmployeeForUser(ctx, &models.User{Username: "ada", FirstName: "Ada", LastName: "Smith"})
	require.NoError(t, err)
	assert.Empty(t, bus.published)

	emp, err := m.EmployeeForUser(ctx, &models.User{Username: "new_hire", WorkerID: "E-900"})
	require.NoError(t, err)
	require.Len(t, bus.published, 1)
	assert.Equal(t, signals.EmployeeChanged{EmployeeID: emp.ID}, bus.published[0])
}

func TestUserForEmployee(t *testing.T) {
	users := newFakeUsers(
		&models.User{ID: 1, Username: "ada_smith", WorkerID: "E-1", IsActive: true},
		&models.User{ID: 2, Username: "bob", FirstName: "Bob", LastName: "Jones", IsActive: true},
		&models.User{ID: 3, Username: "cy_young", IsActive: true},
		&models.User{ID: 4, Username: "gone_user", IsActive: false},
	)
	m := NewMatcher(users, newFakeEmployees(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		emp  *models.Employee
		want int64
	}{
		{"worker id", &models.Employee{EmpID: "E-1", Name: "Whatever"}, 1},
		{"full name", &models.Employee{EmpID: "E-2", Name: "bob jones"}, 2},
		{"username from name", &models.Employee{EmpID: "E-3", Name: "Cy Young"}, 3},
		{"inactive ignored", &models.Employee{EmpID: "E-4", Name: "Gone User"}, 0},
		{"no match", &models.Employee{EmpID: "E-5", Name: "Nobody Here"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := m.UserForEmployee(ctx, tt.emp)
			require.NoError(t, err)
			if tt.want == 0 {
				assert.Nil(t, u)
				return
			}
			require.NotNil(t, u)
			assert.Equal(t, tt.want, u.ID)
		})
	}
}
