package worker

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/impactlink/escrow-backend/internal/services"
)

type mockSweeper struct {
	mock.Mock
}

func (m *mockSweeper) PayoutApproved(ctx context.Context, limit int) (*services.PayoutSweep, error) {
	args := m.Called(ctx, limit)
	if sweep := args.Get(0); sweep != nil {
		return sweep.(*services.PayoutSweep), args.Error(1)
	}
	return nil, args.Error(1)
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestRunOnceUsesBatchSize(t *testing.T) {
	sweeper := new(mockSweeper)
	sweeper.On("PayoutApproved", mock.Anything, 25).
		Return(&services.PayoutSweep{Attempted: 2, Paid: 1, Deferred: 1}, nil).Once()

	r := NewReconciler(sweeper, 25, quietLogger())
	sweep, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Paid)
	assert.Equal(t, 1, sweep.Deferred)
	sweeper.AssertExpectations(t)
}

func TestDefaultBatchSize(t *testing.T) {
	sweeper := new(mockSweeper)
	sweeper.On("PayoutApproved", mock.Anything, 50).Return(&services.PayoutSweep{}, nil).Once()

	r := NewReconciler(sweeper, 0, quietLogger())
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	sweeper.AssertExpectations(t)
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	r := NewReconciler(new(mockSweeper), 10, quietLogger())
	err := r.Start(context.Background(), "every tuesday")
	assert.Error(t, err)
	r.Stop()
}

func TestStartTwiceFails(t *testing.T) {
	r := NewReconciler(new(mockSweeper), 10, quietLogger())
	require.NoError(t, r.Start(context.Background(), "*/5 * * * *"))
	defer r.Stop()

	assert.Error(t, r.Start(context.Background(), "*/5 * * * *"))
}
