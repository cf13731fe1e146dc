package overlay

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Validation limits.
const (
	maxNameLength  = 100
	maxLabelLength = 200
	maxProps       = 32
	maxPropValue   = 2000

	defaultSceneName = "Untitled"
)

// GenerateID returns a new random identifier. Random ids are never reused,
// so a deleted layer's id cannot later match a new layer.
func GenerateID() string {
	return uuid.New().String()
}

// normaliseSceneName trims name and substitutes the default for an empty
// name on create.
func normaliseSceneName(name string, allowEmpty bool) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if allowEmpty {
			return defaultSceneName, nil
		}
		return "", fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return name, nil
}

// ValidateTemplate checks t is a known template.
func ValidateTemplate(t Template) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTemplate, t)
	}
	return nil
}

// ValidateLabel checks a layer label's length. Empty labels are allowed.
func ValidateLabel(label string) error {
	if utf8.RuneCountInString(label) > maxLabelLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidLabel, maxLabelLength)
	}
	return nil
}

// ValidateProps checks prop keys are non-empty and sizes are bounded.
func ValidateProps(props map[string]string) error {
	if len(props) > maxProps {
		return fmt.Errorf("%w: more than %d props", ErrInvalidProps, maxProps)
	}
	for k, v := range props {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidProps)
		}
		if utf8.RuneCountInString(v) > maxPropValue {
			return fmt.Errorf("%w: value for %q exceeds %d characters", ErrInvalidProps, k, maxPropValue)
		}
	}
	return nil
}

// ValidateNewLayer checks a layer about to be added.
func ValidateNewLayer(nl NewLayer) error {
	if err := ValidateTemplate(nl.Template); err != nil {
		return err
	}
	if err := ValidateLabel(nl.Label); err != nil {
		return err
	}
	return ValidateProps(nl.Props)
}

// ValidateLayerUpdate checks the fields an update sets.
func ValidateLayerUpdate(u LayerUpdate) error {
	if u.Template != nil {
		if err := ValidateTemplate(*u.Template); err != nil {
			return err
		}
	}
	if u.Label != nil {
		if err := ValidateLabel(*u.Label); err != nil {
			return err
		}
	}
	if u.Props != nil {
		return ValidateProps(u.Props)
	}
	return nil
}
