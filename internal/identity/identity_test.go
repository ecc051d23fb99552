package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/capitalize-ai/chatsync/pkg/errors"
)

func TestIdentity_Require(t *testing.T) {
	assert.ErrorIs(t, Identity{}.Require(), apperrors.ErrNotAuthenticated)
	assert.NoError(t, Of("u1").Require())
}

func TestContextProvider(t *testing.T) {
	ctx := context.Background()
	assert.False(t, ContextProvider{}.Current(ctx).Authenticated())

	ctx = NewContext(ctx, Of("u1"))
	assert.Equal(t, "u1", ContextProvider{}.Current(ctx).UserID)
}
