package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantRoundTrip(t *testing.T) {
	ctx := WithTenant(context.Background(), "t1")
	assert.Equal(t, "t1", FromContext(ctx))
	assert.Empty(t, FromContext(context.Background()))
}

func TestDetachSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(WithTenant(context.Background(), "t1"))
	detached := Detach(ctx)
	cancel()

	assert.Error(t, ctx.Err())
	assert.NoError(t, detached.Err())
	assert.Equal(t, "t1", FromContext(detached))
}
