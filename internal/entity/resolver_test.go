package entity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gocalceum/calc/internal/domain"
)

type fakeEntityRepo struct {
	permissions map[string]bool // entityID|userID
	memberships map[string]bool
	err         error
}

func (f *fakeEntityRepo) HasEntityPermission(_ context.Context, entityID, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.permissions[entityID+"|"+userID], nil
}

func (f *fakeEntityRepo) IsOrganizationMember(_ context.Context, entityID, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.memberships[entityID+"|"+userID], nil
}

func TestAuthorize_DirectPermission(t *testing.T) {
	repo := &fakeEntityRepo{permissions: map[string]bool{"ent-1|user-1": true}}
	resolver := NewResolver(repo, zap.NewNop())

	require.NoError(t, resolver.Authorize(context.Background(), "user-1", "ent-1"))
}

func TestAuthorize_OrganizationFallback(t *testing.T) {
	repo := &fakeEntityRepo{memberships: map[string]bool{"ent-1|user-2": true}}
	resolver := NewResolver(repo, zap.NewNop())

	require.NoError(t, resolver.Authorize(context.Background(), "user-2", "ent-1"))
}

func TestAuthorize_Denied(t *testing.T) {
	resolver := NewResolver(&fakeEntityRepo{}, zap.NewNop())

	err := resolver.Authorize(context.Background(), "user-3", "ent-1")
	require.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestAuthorize_EmptyIdentifiers(t *testing.T) {
	resolver := NewResolver(&fakeEntityRepo{}, zap.NewNop())

	require.ErrorIs(t, resolver.Authorize(context.Background(), "", "ent-1"), domain.ErrAccessDenied)
	require.ErrorIs(t, resolver.Authorize(context.Background(), "user-1", ""), domain.ErrAccessDenied)
}

func TestAuthorize_RepositoryError(t *testing.T) {
	boom := errors.New("connection refused")
	resolver := NewResolver(&fakeEntityRepo{err: boom}, zap.NewNop())

	err := resolver.Authorize(context.Background(), "user-1", "ent-1")
	require.ErrorIs(t, err, boom)
}
