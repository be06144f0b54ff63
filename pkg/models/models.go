// Package models defines the domain models for the onboarding service
package models

import (
	"time"
)

// StepType identifies the kind of work a step represents
type StepType string

const (
	StepTypeForm      StepType = "form"
	StepTypeTask      StepType = "task"
	StepTypeEmail     StepType = "email"
	StepTypeSignature StepType = "signature"
	StepTypeWait      StepType = "wait"
)

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeForm, StepTypeTask, StepTypeEmail, StepTypeSignature, StepTypeWait:
		return true
	}
	return false
}

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusCompleted RunStatus = "completed"
)

// IsTerminal reports whether no further run transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCancelled || s == RunStatusCompleted
}

// StepStatus represents the state of a single step instance
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusDone    StepStatus = "done"
	StepStatusSkipped StepStatus = "skipped"
)

// AssignmentMode selects how a step owner is resolved
type AssignmentMode string

const (
	AssignmentModeUser    AssignmentMode = "user"
	AssignmentModeRole    AssignmentMode = "role"
	AssignmentModeDynamic AssignmentMode = "dynamic"
)

// StrategyEmployeeManager assigns the step to the onboarded employee's manager.
const StrategyEmployeeManager = "employee_manager"

// AssignmentRule is the declarative owner specification carried by task, email
// and signature step configs.
type AssignmentRule struct {
	Mode     AssignmentMode `json:"mode"`
	UserID   string         `json:"user_id,omitempty"`
	Role     string         `json:"role,omitempty"`
	Strategy string         `json:"strategy,omitempty"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}
