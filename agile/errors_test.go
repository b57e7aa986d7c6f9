package agile

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := newError(KindColumnNotEmpty, "deleteColumn", "column %q still holds %d cards", "Doing", 2)

	assert.True(t, errors.Is(err, ErrColumnNotEmpty))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, `deleteColumn: ColumnNotEmpty: column "Doing" still holds 2 cards`, err.Error())

	wrapped := fmt.Errorf("handler: %w", err)
	assert.True(t, errors.Is(wrapped, ErrColumnNotEmpty))
	assert.Equal(t, KindColumnNotEmpty, KindOf(wrapped))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, KindStorage, KindOf(errors.New("disk full")))
	assert.Equal(t, KindNotFound, KindOf(NotFoundError("card", "c1")))
}

func TestErrorKind_Category(t *testing.T) {
	tests := map[ErrorKind]Category{
		KindDuplicateColumnName:     CategoryValidation,
		KindInvalidDestination:      CategoryValidation,
		KindCrossBoardMoveForbidden: CategoryValidation,
		KindInvalidInput:            CategoryValidation,
		KindColumnNotEmpty:          CategoryConflict,
		KindSprintAlreadyActive:     CategoryConflict,
		KindInvalidState:            CategoryConflict,
		KindNotFound:                CategoryNotFound,
		KindForbidden:               CategoryForbidden,
		KindStorage:                 CategorySystemic,
	}
	for kind, want := range tests {
		assert.Equal(t, want, kind.Category(), kind)
	}
}

func TestWithOp(t *testing.T) {
	assert.NoError(t, withOp("x", nil))

	stamped := withOp("moveCard", NotFoundError("card", "c1"))
	var e *Error
	assert.True(t, errors.As(stamped, &e))
	assert.Equal(t, "moveCard", e.Op)

	cause := errors.New("database is locked")
	storage := withOp("moveCard", cause)
	assert.ErrorIs(t, storage, ErrStorage)
	assert.ErrorIs(t, storage, cause)
}
