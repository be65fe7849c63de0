package authsession

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindExpired, KindOf(ErrExpired))
	assert.Equal(t, KindRateLimited, KindOf(fmt.Errorf("wrapped: %w", ErrRateLimited)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(oops.Code("X").Errorf("boom")))
}

func TestErrorIsMatchesKind(t *testing.T) {
	cause := errors.New("smtp down")
	err := fail(KindDeliveryFailed, cause)

	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrExpired)
	assert.Equal(t, "delivery_failed: smtp down", err.Error())
	assert.Equal(t, "not_found", ErrNotFound.Error())
}
