// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/feedlink/internal/migration"
	ownerdomain "github.com/smallbiznis/feedlink/internal/owner/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// OpenDB returns a migrated in-memory SQLite database private to the test.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

var nodeSeq atomic.Int64

// NewNode returns a snowflake node with a node number no other NewNode call
// in this process shares, so nodes created in the same millisecond never collide.
func NewNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(nodeSeq.Add(1) % 1024)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// SeedOwner inserts an owner row directly.
func SeedOwner(t testing.TB, conn *gorm.DB, node *snowflake.Node, username string) ownerdomain.Owner {
	t.Helper()
	owner := ownerdomain.Owner{
		ID:        node.Generate(),
		Username:  username,
		Email:     username + "@example.com",
		CreatedAt: time.Now().UTC(),
	}
	if err := conn.WithContext(context.Background()).Create(&owner).Error; err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	return owner
}
