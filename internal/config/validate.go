// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"wsprcap/pkg/bitint"
)

// validate is the shared validator instance for configuration checks.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use YAML key names in error messages instead of struct field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
}

// Validate checks field ranges and cross-field constraints. All problems are
// reported together, one per line.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s %s", fieldPath(fe), formatValidationMessage(fe)))
		}
	}

	if c.Spectrum.Enabled && c.Spectrum.FFTSize != 0 && !bitint.IsPowerOfTwo(c.Spectrum.FFTSize) {
		problems = append(problems, fmt.Sprintf("spectrum.fft_size must be a power of two, got %d", c.Spectrum.FFTSize))
	}
	if nyquist := float64(c.Buffer.ConsumerRate) / 2; c.Spectrum.Enabled && c.Spectrum.BandHighHz > nyquist {
		problems = append(problems, fmt.Sprintf("spectrum.band_high_hz %.0f exceeds the consumer Nyquist frequency %.0f", c.Spectrum.BandHighHz, nyquist))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(problems, "\n"))
}

// fieldPath drops the root struct name from the namespace, giving the YAML
// key path (e.g. "buffer.target_ms").
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s entries", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "ltefield":
		return fmt.Sprintf("must not exceed %s", e.Param())
	case "gtfield":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "numeric":
		return "must be numeric"
	case "hostname_port":
		return "must be a host:port address"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
