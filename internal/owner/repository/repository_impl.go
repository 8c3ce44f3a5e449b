package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feedlink/internal/owner/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, owner *domain.Owner) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO owners (id, username, email, created_at) VALUES (?, ?, ?, ?)`,
		owner.ID,
		owner.Username,
		owner.Email,
		owner.CreatedAt,
	).Error
}

func (r *repo) FindByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.Owner, error) {
	var owner domain.Owner
	err := db.WithContext(ctx).Raw(
		`SELECT id, username, email, created_at FROM owners WHERE username = ?`,
		username,
	).Scan(&owner).Error
	if err != nil {
		return nil, err
	}
	if owner.ID == 0 {
		return nil, nil
	}
	return &owner, nil
}

// ArtifactKeys lists the keys of every artifact still referenced by the owner's records.
func (r *repo) ArtifactKeys(ctx context.Context, db *gorm.DB, id snowflake.ID) ([]string, error) {
	var keys []string
	err := db.WithContext(ctx).Raw(
		`SELECT artifact_key FROM invoice_records WHERE owner_id = ? AND artifact_key IS NOT NULL ORDER BY id`,
		id,
	).Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Delete removes the owner together with everything it owns.
func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range []string{
			`DELETE FROM feedback_submissions WHERE owner_id = ?`,
			`DELETE FROM invoice_records WHERE owner_id = ?`,
			`DELETE FROM upload_quotas WHERE owner_id = ?`,
			`DELETE FROM owners WHERE id = ?`,
		} {
			if err := tx.Exec(stmt, id).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
