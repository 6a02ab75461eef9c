package service

import (
	"errors"

	appErrors "github.com/noah-isme/scan-attendance/pkg/errors"
)

// wrapStorage keeps StorageUnavailable visible to callers so they can retry;
// every other repository failure is reported as internal.
func wrapStorage(err error, message string) error {
	if errors.Is(err, appErrors.ErrStorageUnavailable) {
		return appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, message)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) && appErr.Code == appErrors.ErrValidation.Code {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func normalizePage(page, size, fallback int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = fallback
	}
	return page, size
}
