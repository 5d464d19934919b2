package adapters

import (
	"context"

	"lead_lifecycle_engine/internal/routing"
)

// OwnerDirectory adapts the routing repository for notification recipient
// lookups, so the notification service does not depend on routing.Service.
type OwnerDirectory struct {
	repo routing.Repository
}

func NewOwnerDirectory(repo routing.Repository) *OwnerDirectory {
	return &OwnerDirectory{repo: repo}
}

func (d *OwnerDirectory) Owners(ctx context.Context, activeOnly bool) ([]routing.Owner, error) {
	return d.repo.ListOwners(ctx, activeOnly)
}
