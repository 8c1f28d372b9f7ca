package transport

import (
	"errors"

	"github.com/UnendingLoop/ImageIntake/internal/model"
)

func errorCodeDefiner(err error) int {
	switch {
	case errors.Is(err, model.ErrCommon500):
		return 500
	case errors.Is(err, model.ErrKeyConflict):
		return 409
	case errors.Is(err, model.ErrEntryNotFound):
		return 404
	case errors.Is(err, model.ErrIncorrectKey),
		errors.Is(err, model.ErrUnsupportedFormat),
		errors.Is(err, model.ErrSizeOverLimit):
		return 400
	default:
		return 500
	}
}
