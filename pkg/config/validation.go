package config

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cast"
)

type RequiredValidator struct{}

func (v *RequiredValidator) Validate(key string, value interface{}) error {
	if value == nil {
		return fmt.Errorf("%s is required", key)
	}
	switch val := value.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return fmt.Errorf("%s cannot be empty", key)
		}
	case []interface{}:
		if len(val) == 0 {
			return fmt.Errorf("%s cannot be empty", key)
		}
	}
	return nil
}

type RangeValidator struct {
	Min float64
	Max float64
}

func (v *RangeValidator) Validate(key string, value interface{}) error {
	num, err := cast.ToFloat64E(value)
	if err != nil {
		return fmt.Errorf("%s: expected a number, got %T", key, value)
	}
	if num < v.Min || num > v.Max {
		return fmt.Errorf("%s: value %v out of range [%v, %v]", key, num, v.Min, v.Max)
	}
	return nil
}

type PatternValidator struct {
	Pattern string
	regex   *regexp.Regexp
}

func NewPatternValidator(pattern string) (*PatternValidator, error) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
	}
	return &PatternValidator{
		Pattern: pattern,
		regex:   regex,
	}, nil
}

func (v *PatternValidator) Validate(key string, value interface{}) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("%s: expected string for pattern validation", key)
	}
	if !v.regex.MatchString(str) {
		return fmt.Errorf("%s: value %q does not match pattern %s", key, str, v.Pattern)
	}
	return nil
}

// EnumValidator accepts one of Allowed. Strings compare case-insensitively,
// so "INFO" passes for "info".
type EnumValidator struct {
	Allowed []interface{}
}

func (v *EnumValidator) Validate(key string, value interface{}) error {
	str, isString := value.(string)
	for _, allowed := range v.Allowed {
		if a, ok := allowed.(string); ok && isString {
			if strings.EqualFold(a, str) {
				return nil
			}
			continue
		}
		if reflect.DeepEqual(allowed, value) {
			return nil
		}
	}
	return fmt.Errorf("%s: value %v not in allowed set %v", key, value, v.Allowed)
}

// DurationValidator accepts duration strings ("50ms") and plain numbers,
// which are read as milliseconds.
type DurationValidator struct {
	Min time.Duration
	Max time.Duration
}

func (v *DurationValidator) Validate(key string, value interface{}) error {
	d, err := toDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if d < v.Min || (v.Max > 0 && d > v.Max) {
		return fmt.Errorf("%s: duration %v out of range [%v, %v]", key, d, v.Min, v.Max)
	}
	return nil
}

// RegexpListValidator checks that every item of a list compiles.
type RegexpListValidator struct{}

func (v *RegexpListValidator) Validate(key string, value interface{}) error {
	items, err := cast.ToStringSliceE(value)
	if err != nil {
		return fmt.Errorf("%s: expected a list of patterns: %w", key, err)
	}
	for _, item := range items {
		if _, err := regexp.Compile(item); err != nil {
			return fmt.Errorf("%s: invalid pattern %q: %w", key, item, err)
		}
	}
	return nil
}

func toDuration(value interface{}) (time.Duration, error) {
	switch val := value.(type) {
	case time.Duration:
		return val, nil
	case string:
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string %q: %w", val, err)
		}
		return d, nil
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		ms, err := cast.ToFloat64E(val)
		if err != nil {
			return 0, err
		}
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	return 0, fmt.Errorf("expected duration, got %T", value)
}
