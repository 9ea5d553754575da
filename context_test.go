package auditry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, ok := ActorFrom(ctx)
	assert.False(t, ok)

	_, ok = ActorFrom(WithActor(ctx, ""))
	assert.False(t, ok, "empty actor is no actor")

	v, ok := ActorFrom(WithActor(ctx, "alice"))
	assert.True(t, ok)
	assert.Equal(t, "alice", v)

	assert.False(t, skipped(ctx))
	assert.True(t, skipped(WithSkip(ctx)))
	assert.Nil(t, pendingFrom(ctx))
}
