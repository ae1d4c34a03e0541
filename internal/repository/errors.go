package repository

import (
	"errors"
	"fmt"

	"debtapproval/internal/apperror"

	"gorm.io/gorm"
)

// wrapFind turns gorm.ErrRecordNotFound into a NotFound error and wraps anything else.
func wrapFind(what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound(what+" not found", err)
	}
	return fmt.Errorf("find %s: %w", what, err)
}
