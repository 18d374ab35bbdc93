package responder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"relay/internal/app/store"
	"relay/internal/mocks"
)

func TestRetryingSucceedsAfterFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockResponder(ctrl)

	gomock.InOrder(
		inner.EXPECT().Generate(gomock.Any(), "@ai hi", gomock.Nil()).Return("", errors.New("503")).Times(2),
		inner.EXPECT().Generate(gomock.Any(), "@ai hi", gomock.Nil()).Return("hello!", nil),
	)

	reply, err := NewRetrying(inner, 5, time.Millisecond, "").Generate(context.Background(), "@ai hi", nil)
	require.NoError(t, err)
	require.Equal(t, "hello!", reply)
}

func TestRetryingFallsBackAfterFiveAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockResponder(ctrl)
	inner.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("down")).Times(5)

	reply, err := NewRetrying(inner, 5, time.Millisecond, "fallback").Generate(context.Background(), "q", nil)
	require.ErrorIs(t, err, ErrResponderUnavailable)
	require.Equal(t, "fallback", reply)
}

func TestRetryingBackoffDoubles(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockResponder(ctrl)

	var calls []time.Time
	inner.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string, []store.Message) (string, error) {
			calls = append(calls, time.Now())
			return "", errors.New("down")
		}).Times(3)

	_, err := NewRetrying(inner, 3, 20*time.Millisecond, "").Generate(context.Background(), "q", nil)
	require.Error(t, err)
	require.Len(t, calls, 3)
	require.GreaterOrEqual(t, calls[1].Sub(calls[0]), 20*time.Millisecond)
	require.GreaterOrEqual(t, calls[2].Sub(calls[1]), 40*time.Millisecond)
}

func TestRetryingStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockResponder(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	inner.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string, []store.Message) (string, error) {
			cancel()
			return "", errors.New("down")
		})

	reply, err := NewRetrying(inner, 5, time.Hour, "fallback").Generate(ctx, "q", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, reply)
}

func TestRetryingDefaultsNonPositiveDelay(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockResponder(ctrl)
	inner.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("down"))

	r := NewRetrying(inner, 1, 0, "fallback")
	require.Equal(t, DefaultBaseDelay, r.base)

	var (
		reply string
		err   error
	)
	require.NotPanics(t, func() { reply, err = r.Generate(context.Background(), "q", nil) })
	require.ErrorIs(t, err, ErrResponderUnavailable)
	require.Equal(t, "fallback", reply)

	require.Equal(t, DefaultBaseDelay, NewRetrying(inner, 1, -time.Second, "").base)
}
