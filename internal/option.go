package internal

import (
	"io"

	"github.com/starford/quill/internal/models"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	logOut io.Writer
	kinds  []models.Kind
	strict bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput redirects the JSON log stream (stdout by default).
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}

// WithKinds limits RunSweep to the given kinds.
func WithKinds(kinds ...models.Kind) Option {
	return func(a *application) {
		a.kinds = kinds
	}
}

// WithStrict makes RunSweep fail when any record could not be reconciled.
func WithStrict(strict bool) Option {
	return func(a *application) {
		a.strict = strict
	}
}
