package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocal(t *testing.T) {
	first := NewLocal()
	second := NewLocal()

	assert.True(t, IsLocal(first))
	assert.NotEqual(t, first, second)
	assert.Less(t, first, second, "local ids sort by creation order")
}

func TestNew(t *testing.T) {
	id := New()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.False(t, IsLocal(id))
}

func TestLocalRefs(t *testing.T) {
	self := NewLocal()
	parent := NewLocal()
	payload := []byte(`{"id":"` + self + `","audit_id":"` + parent + `","note":"local_ is just text"}`)

	assert.Equal(t, []string{parent}, LocalRefs(payload, self))
	assert.Empty(t, LocalRefs([]byte(`{"id":"`+New()+`"}`), ""))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `local\_`, EscapeLike(LocalPrefix))
	assert.Equal(t, `50\% off\\now`, EscapeLike(`50% off\now`))
}
