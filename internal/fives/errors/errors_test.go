package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(ErrNotFound))
	assert.True(t, IsPermanent(fmt.Errorf("apply: %w", ErrConflict)))
	assert.True(t, IsPermanent(ErrUnknownTable), "unknown table wraps invalid input")
	assert.False(t, IsPermanent(context.DeadlineExceeded))
	assert.False(t, IsPermanent(fmt.Errorf("dial tcp: connection refused")))
	assert.False(t, IsPermanent(nil))
}
