package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the global validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("env", validateEnvironment)
	validate.RegisterStructValidation(validateMemory, MemoryConfig{})
	validate.RegisterStructValidation(validateServer, ServerConfig{})
}

// ConfigError represents a validation error for a specific field.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of config errors.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// ValidateWithDetails performs validation and returns detailed errors.
func ValidateWithDetails(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}
	details := make(ValidationErrors, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		details = append(details, ConfigError{
			Field:   fe.Namespace(),
			Message: formatValidationError(fe),
			Value:   fe.Value(),
		})
	}
	return details
}

// formatValidationError converts validator.FieldError to a human-readable message.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "env":
		return "must be one of [development staging production]"
	case "immediate_below_importance":
		return "must not be below promotion.importance_threshold"
	case "positive_duration":
		return "must be a positive duration"
	case "port_conflict":
		return "must differ from server.port"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// validateEnvironment is a custom validator for environment values.
func validateEnvironment(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "development", "staging", "production":
		return true
	}
	return false
}

// validateServer rejects a gRPC listener on the HTTP port.
func validateServer(sl validator.StructLevel) {
	s := sl.Current().Interface().(ServerConfig)
	if s.GRPC.Enabled && s.GRPC.Port == s.Port {
		sl.ReportError(s.GRPC.Port, "GRPC.Port", "Port", "port_conflict", "")
	}
}

// validateMemory checks cross-field constraints of the memory section.
func validateMemory(sl validator.StructLevel) {
	m := sl.Current().Interface().(MemoryConfig)

	if m.Promotion.ImmediateThreshold < m.Promotion.ImportanceThreshold {
		sl.ReportError(m.Promotion.ImmediateThreshold, "Promotion.ImmediateThreshold",
			"ImmediateThreshold", "immediate_below_importance", "")
	}

	durations := map[string]int64{
		"ShortTerm.TTL":           int64(m.ShortTerm.TTL),
		"Promotion.SweepInterval": int64(m.Promotion.SweepInterval),
		"Decay.Default":           int64(m.Decay.Default),
		"QueryTimeout":            int64(m.QueryTimeout),
		"StorageTimeout":          int64(m.StorageTimeout),
	}
	for name, d := range durations {
		if d <= 0 {
			sl.ReportError(d, name, name, "positive_duration", "")
		}
	}
}
