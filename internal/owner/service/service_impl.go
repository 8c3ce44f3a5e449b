package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feedlink/internal/artifactstore"
	"github.com/smallbiznis/feedlink/internal/clock"
	"github.com/smallbiznis/feedlink/internal/owner/domain"
	"github.com/smallbiznis/feedlink/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]{3,64}$`)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
	Store artifactstore.Store `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
	store artifactstore.Store
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("owner.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		store: p.Store,
	}
}

// NormalizeUsername trims and lowercases a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *Service) Create(ctx context.Context, req domain.CreateOwnerRequest) (domain.Owner, error) {
	username := NormalizeUsername(req.Username)
	if !usernamePattern.MatchString(username) {
		return domain.Owner{}, domain.ErrInvalidUsername
	}

	email := strings.TrimSpace(req.Email)
	if email != "" && !strings.Contains(email, "@") {
		return domain.Owner{}, domain.ErrInvalidEmail
	}

	owner := domain.Owner{
		ID:        s.genID.Generate(),
		Username:  username,
		Email:     email,
		CreatedAt: s.clock.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, s.db, &owner); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Owner{}, domain.ErrUsernameTaken
		}
		return domain.Owner{}, err
	}

	s.log.Info("owner.created", zap.String("owner", owner.Username), zap.String("owner_id", owner.ID.String()))
	return owner, nil
}

func (s *Service) GetByUsername(ctx context.Context, username string) (domain.Owner, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return domain.Owner{}, domain.ErrInvalidUsername
	}

	owner, err := s.repo.FindByUsername(ctx, s.db, username)
	if err != nil {
		return domain.Owner{}, err
	}
	if owner == nil {
		return domain.Owner{}, domain.ErrNotFound
	}
	return *owner, nil
}

func (s *Service) Delete(ctx context.Context, username string) error {
	owner, err := s.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	removed, err := s.deleteArtifacts(ctx, owner)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, s.db, owner.ID); err != nil {
		return err
	}
	s.log.Info("owner.deleted",
		zap.String("owner", owner.Username),
		zap.String("owner_id", owner.ID.String()),
		zap.Int("artifacts", removed),
	)
	return nil
}

// deleteArtifacts removes the owner's stored blobs. Rows are only dropped once
// every blob is gone, so a failed run can be repeated without leaking objects.
func (s *Service) deleteArtifacts(ctx context.Context, owner domain.Owner) (int, error) {
	keys, err := s.repo.ArtifactKeys(ctx, s.db, owner.ID)
	if err != nil {
		return 0, fmt.Errorf("list artifacts: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if s.store == nil {
		return 0, domain.ErrStoreRequired
	}
	for _, key := range keys {
		outcome, err := s.store.Delete(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("delete artifact %s: %w", key, err)
		}
		s.log.Debug("owner.artifact.deleted", zap.String("artifact_key", key), zap.Stringer("outcome", outcome))
	}
	return len(keys), nil
}
