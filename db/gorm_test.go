package db

import (
	"context"
	"errors"
	"testing"

	"Choirbook/logger"
	"Choirbook/model"
	"Choirbook/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestGormLogsGoThroughZapWithoutNotFound(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger.SetLogger(zap.New(core))
	defer logger.SetLogger(nil)

	gdb, err := gorm.Open(sqlite.Open("file:gorm_logging?mode=memory&cache=shared"), GormConfig(false))
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	require.NoError(t, AutoMigrateModels(gdb))

	var u model.User
	err = gdb.Where("username = ?", "secret-identifier").First(&u).Error
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.Zero(t, logs.FilterMessageSnippet("record not found").Len())
	assert.Zero(t, logs.FilterMessageSnippet("secret-identifier").Len())

	var n int
	require.Error(t, gdb.Raw("SELECT count(*) FROM missing_table").Scan(&n).Error)
	failures := logs.FilterMessageSnippet("missing_table").All()
	require.NotEmpty(t, failures)
	assert.Equal(t, zap.WarnLevel, failures[0].Level)
	assert.Contains(t, failures[0].Message, "[GORM]")
}

func TestEnsureAdminUser(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open("file:ensure_admin?mode=memory&cache=shared"), GormConfig(false))
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	require.NoError(t, AutoMigrateModels(gdb))

	ctx := context.Background()
	users := repository.NewGormUserRepository(gdb)
	seed := SeedAdmin{Username: "director", Password: "s3cret-pass"}

	admin, created, err := EnsureAdminUser(ctx, users, seed)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, admin.IsActive)
	assert.True(t, admin.IsStaff)
	assert.Equal(t, "director@localhost", admin.Email)

	again, created, err := EnsureAdminUser(ctx, users, seed)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, admin.ID, again.ID)

	_, _, err = EnsureAdminUser(ctx, users, SeedAdmin{Username: "x"})
	assert.Error(t, err)
}
