package domain

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator with the measurement tags registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("metric_kind", func(fl validator.FieldLevel) bool {
			return MetricKind(fl.Field().String()).IsValid()
		})
		_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
			f := fl.Field().Float()
			return !math.IsNaN(f) && !math.IsInf(f, 0)
		})
		validate = v
	})
	return validate
}

// ValidatePoint rejects a measurement that must not reach the analytics core.
func ValidatePoint(p *MeasurementPoint) error {
	if p == nil {
		return NewValidationError("measurement", "measurement is required", nil)
	}
	if err := Validator().Struct(p); err != nil {
		return toValidationError(err)
	}
	return nil
}

// ValidateSeries checks that every point is valid and that all share one metric kind.
func ValidateSeries(points []MeasurementPoint) error {
	if len(points) == 0 {
		return nil
	}
	kind := points[0].MetricKind
	for i := range points {
		if points[i].MetricKind != kind {
			return fmt.Errorf("%w: %s and %s", ErrMixedMetricKinds, kind, points[i].MetricKind)
		}
		if err := ValidatePoint(&points[i]); err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
	}
	return nil
}

// ValidateMetricSeries checks a series filed under kind. Every point must be valid and
// belong to kind.
func ValidateMetricSeries(kind MetricKind, points []MeasurementPoint) error {
	if !kind.IsValid() {
		return NewValidationError("metric_kind", "is not a supported metric kind", string(kind))
	}
	for i := range points {
		if points[i].MetricKind != kind {
			return fmt.Errorf("%w: %s filed under %s", ErrMixedMetricKinds, points[i].MetricKind, kind)
		}
	}
	return ValidateSeries(points)
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "metric_kind":
		msg = "is not a supported metric kind"
	case "finite":
		return NewValidationError(fe.Field(), ErrNonFiniteValue.Error(), fe.Value())
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		msg = fmt.Sprintf("must be at least %s", fe.Param())
	default:
		msg = fmt.Sprintf("failed %s validation", fe.Tag())
	}
	return NewValidationError(fe.Field(), msg, fe.Value())
}
