package models

import (
	"time"
)

type Role string

const (
	RoleAdmin         Role = "admin"
	RoleFaculty       Role = "faculty"
	RoleStudent       Role = "student"
	RoleRecruiter     Role = "recruiter"
	RoleInstitutional Role = "institutional"
)

// Roles lists every role partition in the fixed order the credential flows
// use when they need to reason about partitions.
var Roles = []Role{RoleAdmin, RoleFaculty, RoleStudent, RoleRecruiter, RoleInstitutional}

func ValidRole(r Role) bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// RedirectFor maps a role to its post-login destination. Unknown roles fall
// back to the root page.
func RedirectFor(role Role) string {
	switch role {
	case RoleAdmin:
		return "/admin/welcome"
	case RoleFaculty:
		return "/faculty/welcome"
	case RoleStudent:
		return "/student/welcome"
	case RoleRecruiter:
		return "/recruiter/welcome"
	case RoleInstitutional:
		return "/institutional/welcome"
	default:
		return "/"
	}
}

// User is a credential document. Usernames are unique across every role
// partition: one record per username, with the role stored as an attribute.
type User struct {
	Username        string    `json:"username" dynamodbav:"username"`
	PasswordHash    string    `json:"-" dynamodbav:"password_hash"`
	Role            Role      `json:"role" dynamodbav:"role"`
	Email           string    `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Mobile          string    `json:"mobile,omitempty" dynamodbav:"mobile,omitempty"`
	FullName        string    `json:"full_name,omitempty" dynamodbav:"full_name,omitempty"`
	Department      string    `json:"department,omitempty" dynamodbav:"department,omitempty"`
	EnrollmentID    string    `json:"enrollment_id,omitempty" dynamodbav:"enrollment_id,omitempty"`
	FacultyID       string    `json:"faculty_id,omitempty" dynamodbav:"faculty_id,omitempty"`
	InstitutionalID string    `json:"institutional_id,omitempty" dynamodbav:"institutional_id,omitempty"`
	InstitutionName string    `json:"institution_name,omitempty" dynamodbav:"institution_name,omitempty"`
	FirstName       string    `json:"first_name,omitempty" dynamodbav:"first_name,omitempty"`
	LastName        string    `json:"last_name,omitempty" dynamodbav:"last_name,omitempty"`
	CreatedAt       time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER#" + u.Username
}

func (u *User) GetSK() string {
	return "PROFILE"
}
