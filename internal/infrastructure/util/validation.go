package util

import (
	"fmt"
	"net"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// ValidateRequired checks if a string value is not empty
func ValidateRequired(value, fieldName string) error {
	if value == "" {
		return ValidationError{Field: fieldName, Message: "cannot be empty"}
	}
	return nil
}

// ValidatePositive checks if a numeric value is positive
func ValidatePositive(value int, fieldName string) error {
	if value <= 0 {
		return ValidationError{Field: fieldName, Message: "must be positive"}
	}
	return nil
}

// ValidateRange checks that min <= value <= max
func ValidateRange(value, min, max int, fieldName string) error {
	if value < min || value > max {
		return ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("%d out of range [%d, %d]", value, min, max),
		}
	}
	return nil
}

// ValidateEndpoint checks if an endpoint string is valid
func ValidateEndpoint(endpoint, fieldName string) error {
	if err := ValidateRequired(endpoint, fieldName); err != nil {
		return err
	}
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return ValidationError{Field: fieldName, Message: "invalid host:port format"}
	}
	if host == "" {
		return ValidationError{Field: fieldName, Message: "host cannot be empty"}
	}
	if port == "" {
		return ValidationError{Field: fieldName, Message: "port cannot be empty"}
	}
	return nil
}

// ValidateUnique reports the first repeated element
func ValidateUnique[T comparable](items []T, fieldName string) error {
	seen := make(map[T]struct{}, len(items))
	for i, it := range items {
		if _, ok := seen[it]; ok {
			return ValidationError{Field: fieldName, Message: fmt.Sprintf("duplicate entry at index %d", i)}
		}
		seen[it] = struct{}{}
	}
	return nil
}
