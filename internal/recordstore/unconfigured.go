package recordstore

import (
	"context"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
)

// Unconfigured fails every operation with apperr.ErrStoreUnavailable. It lets
// the service boot without store credentials and report 503 per request.
type Unconfigured struct{}

var _ Store = Unconfigured{}

func (Unconfigured) Get(context.Context, models.Kind, string) (*models.Record, error) {
	return nil, apperr.ErrStoreUnavailable
}

func (Unconfigured) List(context.Context, models.Kind) ([]*models.Record, error) {
	return nil, apperr.ErrStoreUnavailable
}

func (Unconfigured) Put(context.Context, models.Kind, *models.Record) error {
	return apperr.ErrStoreUnavailable
}

func (Unconfigured) Delete(context.Context, models.Kind, string) (bool, error) {
	return false, apperr.ErrStoreUnavailable
}

func (Unconfigured) Ping(context.Context) error { return apperr.ErrStoreUnavailable }

func (Unconfigured) Close() error { return nil }
