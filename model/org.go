package model

import "time"

// Role names.
const (
	RoleUser    = "user"
	RoleManager = "manager"
)

// Organization groups sites and members. Sandbox organizations have their sites removed on a
// fixed cadence.
type Organization struct {
	ID                    int64      `json:"id"`
	Name                  string     `json:"name"`
	Agency                string     `json:"agency,omitempty"`
	IsSandbox             bool       `json:"isSandbox"`
	SandboxNextCleaningAt *time.Time `json:"sandboxNextCleaningAt,omitempty"`
	IsActive              bool       `json:"isActive"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// DaysUntilSandboxCleaning returns the number of calendar days between now and the next cleaning.
// It returns 0 when no cleaning is scheduled or the date has passed.
func (o *Organization) DaysUntilSandboxCleaning(now time.Time) int {
	if o.SandboxNextCleaningAt == nil {
		return 0
	}
	days := int(truncateDay(*o.SandboxNextCleaningAt).Sub(truncateDay(now)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// SandboxCleaningDue reports whether the scheduled cleaning date has been reached.
func (o *Organization) SandboxCleaningDue(now time.Time) bool {
	if !o.IsSandbox || o.SandboxNextCleaningAt == nil {
		return false
	}
	return !truncateDay(now).Before(truncateDay(*o.SandboxNextCleaningAt))
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Role is a named permission level within an organization
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// OrganizationRole binds a user to an organization with a role. Role and User are populated
// when members are listed.
type OrganizationRole struct {
	OrganizationID int64     `json:"organizationId"`
	UserID         int64     `json:"userId"`
	RoleID         int64     `json:"roleId"`
	Role           *Role     `json:"role,omitempty"`
	User           *User     `json:"user,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
