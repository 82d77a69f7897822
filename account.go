package rbac

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateAccount creates a new active account. An empty slug is derived
// from the name.
func (r *RBAC) CreateAccount(ctx context.Context, name, slug string, actorID *uuid.UUID) (*Account, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}
	if slug == "" {
		slug = slugify(name, "-")
	}

	account := &Account{Name: name, Slug: slug, IsActive: true}
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	r.logAudit(ctx, actorID, "create_account", "account", account.ID, "Created account: "+slug)
	return account, nil
}

// GetAccount retrieves an account by ID.
func (r *RBAC) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidInput
	}

	var account Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, wrapStoreErr("get account", err)
	}

	return &account, nil
}

// GetAccountBySlug retrieves an account by slug.
func (r *RBAC) GetAccountBySlug(ctx context.Context, slug string) (*Account, error) {
	if slug == "" {
		return nil, ErrInvalidInput
	}

	var account Account
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&account).Error; err != nil {
		return nil, wrapStoreErr("get account by slug", err)
	}

	return &account, nil
}

// AddMember adds a user to an account. Adding an existing member is a no-op.
func (r *RBAC) AddMember(ctx context.Context, accountID, userID uuid.UUID, actorID *uuid.UUID) error {
	if userID == uuid.Nil {
		return ErrInvalidInput
	}
	if _, err := r.GetAccount(ctx, accountID); err != nil {
		return err
	}

	member := AccountMember{AccountID: accountID, UserID: userID}
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND user_id = ?", accountID, userID).
		FirstOrCreate(&member).Error; err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	r.logAudit(ctx, actorID, "add_member", "account", accountID, "Added member: "+userID.String())
	return nil
}

// RemoveMember removes a user from an account.
func (r *RBAC) RemoveMember(ctx context.Context, accountID, userID uuid.UUID, actorID *uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("account_id = ? AND user_id = ?", accountID, userID).
		Delete(&AccountMember{})
	if res.Error != nil {
		return fmt.Errorf("failed to remove member: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	r.invalidateCache(ctx, userID)
	r.logAudit(ctx, actorID, "remove_member", "account", accountID, "Removed member: "+userID.String())
	return nil
}

// IsMember reports whether the user belongs to the account.
func (r *RBAC) IsMember(ctx context.Context, accountID, userID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&AccountMember{}).
		Where("account_id = ? AND user_id = ?", accountID, userID).
		Count(&count).Error; err != nil {
		return false, wrapStoreErr("is member", err)
	}
	return count > 0, nil
}

// DefaultAccount returns the account the user joined first.
func (r *RBAC) DefaultAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	var member AccountMember
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at, id").
		First(&member).Error; err != nil {
		return nil, wrapStoreErr("default account", err)
	}
	return r.GetAccount(ctx, member.AccountID)
}
