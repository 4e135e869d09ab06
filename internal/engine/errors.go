package engine

import (
	"errors"
	"fmt"

	"github.com/lox/yieldwise/internal/ensemble"
	"github.com/lox/yieldwise/internal/features"
)

// ErrUntrained is returned by Predict and Save before a model has been
// trained or loaded.
var ErrUntrained = ensemble.ErrUntrained

// ValidationError reports input that cannot be used for training or prediction.
type ValidationError = features.ValidationError

var (
	ErrBadMagic          = errors.New("not a yieldwise model file")
	ErrUnsupportedFormat = errors.New("unsupported model format version")
	ErrSchemaMismatch    = errors.New("model was trained on a different feature schema")
	ErrCorrupt           = errors.New("model file is corrupt")
)

// PersistenceError wraps any failure to save or load a model file.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s model %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is caused by bad input.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
