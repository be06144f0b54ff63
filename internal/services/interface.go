package services

import (
	"context"
	"time"

	"onboarding/backend/pkg/models"
)

// Metrics records engine activity. Implemented by telemetry.Metrics and
// telemetry.Nop.
type Metrics interface {
	RunCreated(ctx context.Context)
	RunTransition(ctx context.Context, status string)
	StepTransition(ctx context.Context, status string)
	ObserveOperation(ctx context.Context, op string, d time.Duration, outcome string)
}

// RoleLookup is the single read the assignment resolver may perform.
type RoleLookup interface {
	// FindActiveProfileByRole returns repository.ErrNotFound when no active
	// profile in the org holds role.
	FindActiveProfileByRole(ctx context.Context, orgID, role string) (*models.Profile, error)
}
