package models

import (
	"time"
)

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is a platform user that can own onboarding steps.
type Profile struct {
	ID       string `json:"id"`
	OrgID    string `json:"org_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Active   bool   `json:"active"`
}

// Employee is the person being onboarded. ManagerID names a Profile.
type Employee struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"org_id"`
	FullName  string     `json:"full_name"`
	Email     string     `json:"email"`
	ManagerID *string    `json:"manager_id,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
}

// Caller identifies who is invoking an operation and which organization gates
// every entity the operation touches.
type Caller struct {
	CallerID string
	OrgID    string
	Role     string
}
