package ctxutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorFromContext(t *testing.T) {
	assert.Equal(t, SystemActor, ActorFromContext(context.Background()))
	assert.Equal(t, SystemActor, ActorFromContext(WithActor(context.Background(), "")))
	assert.Equal(t, "adj-7", ActorFromContext(WithActor(context.Background(), "adj-7")))
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Equal(t, "req-1", RequestIDFromContext(WithRequestID(context.Background(), "req-1")))
}
