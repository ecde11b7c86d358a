package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeRunsInRegistrationOrder(t *testing.T) {
	var l List[*[]string]
	l.Register(func(ctx context.Context, v *[]string) error {
		*v = append(*v, "first")
		return nil
	})
	l.Register(func(ctx context.Context, v *[]string) error {
		*v = append(*v, "second")
		return nil
	})

	var got []string
	require.NoError(t, l.Invoke(context.Background(), &got))
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestInvokeAbortsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	var l List[int]
	l.Register(func(ctx context.Context, v int) error {
		calls++
		return boom
	})
	l.Register(func(ctx context.Context, v int) error {
		calls++
		return nil
	})

	err := l.Invoke(context.Background(), 0)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "callbacks after the failing one must not run")
}

func TestEmptyListInvokes(t *testing.T) {
	var l List[string]
	assert.NoError(t, l.Invoke(context.Background(), "x"))
	assert.Equal(t, 0, l.Len())
}
