package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/sitebooks/sitebooks/internal/audit/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setup(t *testing.T) (auditdomain.Recorder, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	return NewService(Params{DB: gdb, Log: zap.NewNop(), GenID: node}), gdb
}

func TestRecordValidatesEntry(t *testing.T) {
	recorder, _ := setup(t)
	ctx := context.Background()

	err := recorder.Record(ctx, nil, auditdomain.Entry{
		EntityType: "invoice", EntityID: "1", Actor: "user:x",
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)

	err = recorder.Record(ctx, nil, auditdomain.Entry{
		EntityType: "invoice", EntityID: "1", Action: "invoice.created",
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidActor)

	err = recorder.Record(ctx, nil, auditdomain.Entry{
		Action: "invoice.created", Actor: "user:x",
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidEntity)
}

func TestRecordRollsBackWithCallerTransaction(t *testing.T) {
	recorder, gdb := setup(t)
	ctx := context.Background()

	err := gdb.Transaction(func(tx *gorm.DB) error {
		if err := recorder.Record(ctx, tx, auditdomain.Entry{
			EntityType: "invoice",
			EntityID:   "42",
			Action:     "invoice.created",
			Actor:      "user:x",
		}); err != nil {
			return err
		}
		return fmt.Errorf("force rollback")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, gdb.Model(&auditdomain.AuditLog{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestListFilters(t *testing.T) {
	recorder, _ := setup(t)
	ctx := context.Background()

	entries := []auditdomain.Entry{
		{EntityType: "invoice", EntityID: "1", Action: "invoice.created", Actor: "user:a"},
		{EntityType: "invoice", EntityID: "1", Action: "invoice.approved", Actor: "user:b"},
		{EntityType: "payment_run", EntityID: "9", Action: "payment_run.created", Actor: "user:a"},
	}
	for _, entry := range entries {
		require.NoError(t, recorder.Record(ctx, nil, entry))
	}

	byEntity, err := recorder.List(ctx, auditdomain.ListRequest{EntityType: "invoice", EntityID: "1"})
	require.NoError(t, err)
	assert.Len(t, byEntity, 2)

	byAction, err := recorder.List(ctx, auditdomain.ListRequest{Action: "payment_run.created"})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, "9", byAction[0].EntityID)

	future := time.Now().UTC().Add(time.Hour)
	none, err := recorder.List(ctx, auditdomain.ListRequest{StartAt: &future})
	require.NoError(t, err)
	assert.Empty(t, none)

	limited, err := recorder.List(ctx, auditdomain.ListRequest{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
