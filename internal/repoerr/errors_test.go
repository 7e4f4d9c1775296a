package repoerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	assert.Equal(t, "NOT_FOUND: users not found (field=42)", NotFound("users", "42").Error())
	assert.Equal(t, "NOT_FOUND: record not found", (&Error{Code: CodeNotFound, Message: "record not found"}).Error())
	assert.Equal(t, "ALREADY_DELETED: ALREADY_DELETED", ErrAlreadyDeleted.Error())
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("get user: %w", NotFound("users", "7"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrAlreadyDeleted)
	assert.False(t, errors.Is(errors.New("plain"), ErrNotFound))
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NotFound("", "1"), IsNotFound},
		{"already deleted", AlreadyDeleted("1"), IsAlreadyDeleted},
		{"invalid id", InvalidIdentifierFormat("x", "not hex"), IsInvalidIdentifier},
		{"invalid value", InvalidFilterValue("name", "empty"), IsInvalidFilterValue},
		{"field whitelist", FilterFieldNotAllowed("secret"), IsWhitelistViolation},
		{"include whitelist", IncludeNotAllowed("owner"), IsWhitelistViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.check(errors.New("other")))
			assert.False(t, tt.check(nil))
		})
	}
}

func TestIsCallerError(t *testing.T) {
	assert.True(t, IsCallerError(InvalidOrderDirection("name", "up")))
	assert.True(t, IsCallerError(InvalidFieldName("a b")))
	assert.True(t, IsCallerError(IncludeNotAllowed("x")))
	assert.False(t, IsCallerError(NotFound("", "1")))
	assert.False(t, IsCallerError(AlreadyDeleted("1")))
	assert.False(t, IsCallerError(errors.New("disk full")))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeIncludeNotAllowed, CodeOf(fmt.Errorf("x: %w", IncludeNotAllowed("owner"))))
	assert.Equal(t, Code(""), CodeOf(errors.New("x")))
}
