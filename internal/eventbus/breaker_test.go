package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event *Event) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

func TestBreakerPublisher_OpensAfterFailures(t *testing.T) {
	inner := new(MockPublisher)
	inner.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down")).Times(3)

	pub := NewBreakerPublisher(inner, BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: time.Minute}, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := pub.Publish(ctx, NewEvent(EventTypeRunCreated, "org", "run", nil))
		assert.EqualError(t, err, "broker down")
	}
	assert.Equal(t, gobreaker.StateOpen, pub.State())

	err := pub.Publish(ctx, NewEvent(EventTypeRunCreated, "org", "run", nil))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	inner.AssertNumberOfCalls(t, "Publish", 3)
}

func TestBreakerPublisher_PassesThrough(t *testing.T) {
	inner := new(MockPublisher)
	inner.On("Publish", mock.Anything, mock.MatchedBy(func(e *Event) bool {
		return e.Type == EventTypeStepCompleted
	})).Return(nil).Once()
	inner.On("Close").Return(nil).Once()

	pub := NewBreakerPublisher(inner, BreakerConfig{}, nil)
	assert.NoError(t, pub.Publish(context.Background(), NewEvent(EventTypeStepCompleted, "org", "step", nil)))
	assert.Equal(t, gobreaker.StateClosed, pub.State())
	assert.NoError(t, pub.Close())
	inner.AssertExpectations(t)
}
