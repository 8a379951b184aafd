// SPDX-License-Identifier: MIT
package capture

import (
	"errors"
	"math"

	"github.com/go-playground/validator/v10"
)

// BufferConfiguration bounds a StreamingBuffer in samples at the consumer
// rate. It is fixed at construction.
type BufferConfiguration struct {
	Maximum int `validate:"gt=0"`
	Target  int `validate:"gte=0,ltefield=Maximum"`
	Minimum int `validate:"gte=0,ltefield=Target"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks 0 <= Minimum <= Target <= Maximum and Maximum > 0.
func (c BufferConfiguration) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ConfigError{Err: err}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return &ConfigError{
		Fields: fields,
		Err:    errors.New("buffer requires 0 <= minimum <= target <= maximum and maximum > 0"),
	}
}

// BufferConfigurationFromDurations converts millisecond bounds into sample
// counts at rate.
func BufferConfigurationFromDurations(rate int, maximumMs, targetMs, minimumMs int) BufferConfiguration {
	toSamples := func(ms int) int {
		return int(math.Round(float64(ms) / 1000 * float64(rate)))
	}
	return BufferConfiguration{
		Maximum: toSamples(maximumMs),
		Target:  toSamples(targetMs),
		Minimum: toSamples(minimumMs),
	}
}
