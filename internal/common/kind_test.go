package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindInvalidToken, KindOf(ErrInvalidToken))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("load: %w", ErrorNotFound)))
	assert.Equal(t, KindRateLimited, KindOf(&RateLimitError{CooldownHours: 3}))
	assert.Equal(t, KindUpstreamVerifier, KindOf(fmt.Errorf("%w: timeout", ErrUpstreamVerifier)))
	assert.Equal(t, KindBadRequest, KindOf(fmt.Errorf("%w: empty requester address", ErrBadRequest)))
	assert.Equal(t, KindInternal, KindOf(errors.New("db down")))
	assert.Equal(t, KindInternal, KindOf(ErrorConflict))
}
