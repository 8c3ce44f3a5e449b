package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, owner *Owner) error
	FindByUsername(ctx context.Context, db *gorm.DB, username string) (*Owner, error)
	ArtifactKeys(ctx context.Context, db *gorm.DB, id snowflake.ID) ([]string, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
