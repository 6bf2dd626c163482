package entity

import (
	"context"

	"go.uber.org/zap"

	"github.com/gocalceum/calc/internal/domain"
	"github.com/gocalceum/calc/internal/repository"
)

// Resolver decides whether a user may act on an entity. Access is granted by
// a direct permission row or, failing that, by membership in the entity's
// owning organization.
type Resolver struct {
	repo   repository.EntityRepository
	logger *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(repo repository.EntityRepository, logger *zap.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger}
}

// Authorize returns nil when the user may act on the entity, and
// domain.ErrAccessDenied otherwise.
func (r *Resolver) Authorize(ctx context.Context, userID, entityID string) error {
	if userID == "" || entityID == "" {
		return domain.ErrAccessDenied
	}

	ok, err := r.repo.HasEntityPermission(ctx, entityID, userID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	ok, err = r.repo.IsOrganizationMember(ctx, entityID, userID)
	if err != nil {
		return err
	}
	if !ok {
		r.logger.Warn("entity access denied",
			zap.String("user_id", userID),
			zap.String("entity_id", entityID))
		return domain.ErrAccessDenied
	}
	return nil
}
