package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError(t *testing.T) {
	err := NewError(CodeSessionNotFound, ErrSessionNotFound, "")
	assert.Equal(t, "session not found", err.Error())

	wrapped := fmt.Errorf("lookup: %w", err)
	assert.ErrorIs(t, wrapped, ErrSessionNotFound)

	var de *DomainError
	assert.True(t, errors.As(wrapped, &de))
	assert.Equal(t, CodeSessionNotFound, de.Code)

	custom := NewError(CodeBadRequest, ErrBadRequest, "chunk too large")
	assert.Equal(t, "chunk too large", custom.Error())
}
