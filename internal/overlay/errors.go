package overlay

import "errors"

// Domain errors for the overlay package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, overlay.ErrSceneNotFound) {
//	    // stale reference, nothing changed
//	}
var (
	// ErrSceneNotFound is returned when a scene ID does not exist.
	ErrSceneNotFound = errors.New("overlay: scene not found")

	// ErrLayerNotFound is returned when a layer ID does not exist in the
	// scene's draft sequence.
	ErrLayerNotFound = errors.New("overlay: layer not found")

	// ErrInvalidTemplate is returned for a template outside the known set.
	ErrInvalidTemplate = errors.New("overlay: invalid template")

	// ErrInvalidName is returned when a scene name is empty or too long.
	ErrInvalidName = errors.New("overlay: invalid name")

	// ErrInvalidLabel is returned when a layer label is too long.
	ErrInvalidLabel = errors.New("overlay: invalid label")

	// ErrInvalidProps is returned when layer props contain an empty key or
	// exceed the size limits.
	ErrInvalidProps = errors.New("overlay: invalid props")

	// ErrPersistence wraps any failure of the durable store. The registry
	// is unchanged when an operation returns it.
	ErrPersistence = errors.New("overlay: persistence failure")
)

// IsStale reports whether err is a stale-reference error: the command named
// a scene or layer that no longer exists.
func IsStale(err error) bool {
	return errors.Is(err, ErrSceneNotFound) || errors.Is(err, ErrLayerNotFound)
}

// IsValidation reports whether err is a rejected-input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidTemplate) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidLabel) ||
		errors.Is(err, ErrInvalidProps)
}
