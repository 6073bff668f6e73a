package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/impactlink/escrow-backend/internal/database"
	"github.com/impactlink/escrow-backend/internal/models"
)

// openTestDB connects to TEST_DATABASE_DSN and skips when it is unset.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db))
	return db
}

func TestGormMilestoneLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewGormRepository(db)

	pc := seedCase(t, repo, uuid.New(), 50001)
	first, second := models.SplitGrant(pc.GrantAmount)
	build := func() []models.Milestone {
		return []models.Milestone{
			{PaymentCaseID: pc.ID, MilestoneNumber: 1, Amount: first, Status: models.MilestoneStatusPending},
			{PaymentCaseID: pc.ID, MilestoneNumber: 2, Amount: second, Status: models.MilestoneStatusPending},
		}
	}

	n, err := repo.CreateMilestones(ctx, build())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = repo.CreateMilestones(ctx, build())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	m, err := repo.GetMilestoneByNumber(ctx, pc.ID, 1)
	require.NoError(t, err)
	stale := *m

	m.Status = models.MilestoneStatusDocumentsUploaded
	m.CharterDocumentURL = "https://docs.example.org/charter.pdf"
	require.NoError(t, repo.UpdateMilestone(ctx, m))

	stale.Status = models.MilestoneStatusRejected
	assert.ErrorIs(t, repo.UpdateMilestone(ctx, &stale), ErrVersionConflict)

	loaded, err := repo.GetPaymentCase(ctx, pc.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Milestones, 2)
	assert.Equal(t, models.MilestoneStatusDocumentsUploaded, loaded.Milestones[0].Status)
	assert.Equal(t, pc.GrantAmount, loaded.Milestones[0].Amount+loaded.Milestones[1].Amount)
}

func TestGormWebhookEventDedup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewGormRepository(db)
	eventID := "evt_" + uuid.NewString()

	first, err := repo.RecordWebhookEvent(ctx, &models.WebhookEvent{EventID: eventID, Type: "transfer.created"})
	require.NoError(t, err)
	second, err := repo.RecordWebhookEvent(ctx, &models.WebhookEvent{EventID: eventID, Type: "transfer.created"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.TryCount)
}
