// Package access answers whether a user holds a role on a project.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rojas22bt/diagamaIA-sub001/domain"
)

type Authority struct {
	store domain.AccessStore
}

func New(store domain.AccessStore) *Authority {
	return &Authority{store: store}
}

// Authorize returns the caller's access record for the project. A missing
// record yields domain.ErrNoAccess; any other failure is returned wrapped.
func (a *Authority) Authorize(ctx context.Context, userID, projectID int64) (domain.Membership, error) {
	m, err := a.store.Membership(ctx, userID, projectID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Membership{}, fmt.Errorf("project %d: %w", projectID, domain.ErrNoAccess)
	}
	if err != nil {
		return domain.Membership{}, fmt.Errorf("lookup access for project %d: %w", projectID, err)
	}
	return m, nil
}

func (a *Authority) Role(ctx context.Context, userID, projectID int64) (string, error) {
	m, err := a.Authorize(ctx, userID, projectID)
	if err != nil {
		return "", err
	}
	return m.Role, nil
}
