package detectors

import (
	"errors"
	"fmt"

	"github.com/hed1ad/vitalguard/pkg/features"
)

// NotTrainedError is returned when scoring or saving a detector that has
// neither been trained nor loaded.
type NotTrainedError struct {
	Detector Kind
}

func (e *NotTrainedError) Error() string {
	return fmt.Sprintf("%s detector must be trained before use", e.Detector)
}

// FeatureError is returned when a table lacks the required columns.
type FeatureError = features.Error

// ConfigurationError reports an invalid hyperparameter, voting policy or
// factory method name.
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Option == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Option, e.Reason)
}

// CorruptArtifactError is returned when a persisted detector cannot be
// restored.
type CorruptArtifactError struct {
	Reason string
	Err    error
}

func (e *CorruptArtifactError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt artifact: %s: %v", e.Reason, e.Err)
	}
	return "corrupt artifact: " + e.Reason
}

func (e *CorruptArtifactError) Unwrap() error { return e.Err }

// NotTrained builds a NotTrainedError for kind.
func NotTrained(kind Kind) error {
	return &NotTrainedError{Detector: kind}
}

// Configuration builds a ConfigurationError.
func Configuration(option, format string, args ...interface{}) error {
	return &ConfigurationError{Option: option, Reason: fmt.Sprintf(format, args...)}
}

// Corrupt builds a CorruptArtifactError.
func Corrupt(reason string, err error) error {
	return &CorruptArtifactError{Reason: reason, Err: err}
}

// IsNotTrained reports whether err is, or wraps, a NotTrainedError.
func IsNotTrained(err error) bool {
	var target *NotTrainedError
	return errors.As(err, &target)
}

// IsFeatureError reports whether err is, or wraps, a FeatureError.
func IsFeatureError(err error) bool {
	var target *FeatureError
	return errors.As(err, &target)
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsCorruptArtifact reports whether err is, or wraps, a CorruptArtifactError.
func IsCorruptArtifact(err error) bool {
	var target *CorruptArtifactError
	return errors.As(err, &target)
}
