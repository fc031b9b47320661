package orders

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"subscription-billing/internal/domain/apperr"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusPaid, StatusCancelled, StatusExpired, StatusRefunded}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusPaid}:      true,
		{StatusPending, StatusCancelled}: true,
		{StatusPending, StatusExpired}:   true,
		{StatusPaid, StatusRefunded}:     true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			require.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)

			err := CheckTransition(from, to)
			if want {
				require.NoError(t, err)
			} else {
				require.True(t, errors.Is(err, apperr.ErrInvalidStateTransition))
			}
		}
	}
}

func TestIsTerminal(t *testing.T) {
	require.False(t, IsTerminal(StatusPending))
	require.False(t, IsTerminal(StatusPaid))
	require.True(t, IsTerminal(StatusCancelled))
	require.True(t, IsTerminal(StatusExpired))
	require.True(t, IsTerminal(StatusRefunded))
}
