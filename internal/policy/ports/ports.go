package ports

import (
	"context"

	"canon/internal/identity/models"
)

// PolicyLookup reports whether a grouping requires verified identities.
// Unknown groups return sentinel.ErrNotFound.
type PolicyLookup interface {
	RequiresVerification(ctx context.Context, groupID string) (bool, error)
}

// IdentityReader fetches the identity the gate decides on. Unknown ids return
// sentinel.ErrNotFound.
type IdentityReader interface {
	FindByID(ctx context.Context, id string) (*models.Identity, error)
}

// GroupResolver maps an external actor to the grouping its policy is keyed
// by. Actors without a grouping return sentinel.ErrNotFound.
type GroupResolver interface {
	GroupFor(ctx context.Context, actorRef string) (string, error)
}
