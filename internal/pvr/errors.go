package pvr

import (
	apperrors "github.com/vnsid/vnsid/internal/errors"
)

var (
	ErrNotFound         = apperrors.NewNotFoundError("object")
	ErrDeviceBusy       = apperrors.New(apperrors.ErrorTypeResourceExhausted, "no free input device")
	ErrRecordingRunning = apperrors.New(apperrors.ErrorTypeRecRunning, "recording is running")
	ErrInvalid          = apperrors.NewInvalidDataError("invalid object")
	ErrLocked           = apperrors.NewLockedError("object locked")
	ErrUnsupportedInput = apperrors.NewNotSupportedError("input scheme")
)
