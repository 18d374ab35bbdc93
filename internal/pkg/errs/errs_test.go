package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	req := require.New(t)

	e := NewError(ErrSenderMuted)
	req.Equal(ErrSenderMuted, e.Code)
	req.Equal(http.StatusForbidden, e.Status)

	e = NewError(ErrFileSizeTooLarge, 5)
	req.Equal("File must be at most 5 MB.", e.Message)
	req.Equal(http.StatusRequestEntityTooLarge, e.Status)

	e = NewError(ErrSessionNotFound)
	req.Equal(http.StatusOK, e.Status)

	e = NewError(999999)
	req.Equal(ErrUnknown, e.Code)
}

func TestCustomErrorIs(t *testing.T) {
	req := require.New(t)

	wrapped := fmt.Errorf("send: %w", NewError(ErrSenderKicked))
	req.True(errors.Is(wrapped, NewError(ErrSenderKicked)))
	req.False(errors.Is(wrapped, NewError(ErrSenderMuted)))
}

func TestFromDomain(t *testing.T) {
	errConflict := NewSentinel(ErrNameTaken, "name conflict")

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"sentinel", errConflict, ErrNameTaken},
		{"wrapped sentinel", fmt.Errorf("rename alice: %w", errConflict), ErrNameTaken},
		{"custom error", NewError(ErrForbidden), ErrForbidden},
		{"plain error", errors.New("boom"), ErrUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.code, FromDomain(tc.err).Code)
		})
	}

	require.Nil(t, FromDomain(nil))
}
