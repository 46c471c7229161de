// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package validate accumulates configuration validation errors so a bad
// file is reported in one pass instead of one field per attempt.
package validate

import (
	"cmp"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Error is a single failed check. Field is the dotted YAML path.
type Error struct {
	Field   string
	Value   any
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// ValidationError is returned by Validator.Err.
type ValidationError struct {
	errors []Error
}

func (e ValidationError) Errors() []Error { return e.errors }

// Fields lists the failing field paths in report order.
func (e ValidationError) Fields() []string {
	return lo.Map(e.errors, func(err Error, _ int) string { return err.Field })
}

func (e ValidationError) Error() string {
	return strings.Join(lo.Map(e.errors, func(err Error, _ int) string { return err.Error() }), "; ")
}

// Validator collects Errors. The zero value is ready to use.
type Validator struct {
	errors []Error
}

func New() *Validator { return &Validator{} }

func (v *Validator) AddError(field, message string, value any) {
	v.errors = append(v.errors, Error{Field: field, Value: value, Message: message})
}

func (v *Validator) addf(field string, value any, format string, args ...any) {
	v.AddError(field, fmt.Sprintf(format, args...), value)
}

func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

func (v *Validator) Errors() []Error { return v.errors }

// Err returns nil or a ValidationError holding a copy of the errors so far.
func (v *Validator) Err() error {
	if v.IsValid() {
		return nil
	}
	return ValidationError{errors: slices.Clone(v.errors)}
}

// URL requires an absolute URL with a host. An empty schemes list allows
// any scheme.
func (v *Validator) URL(field, value string, schemes []string) {
	if value == "" {
		v.AddError(field, "URL cannot be empty", value)
		return
	}
	u, err := url.Parse(value)
	switch {
	case err != nil:
		v.addf(field, value, "invalid URL: %v", err)
	case u.Host == "":
		v.AddError(field, "URL must have a host", value)
	case len(schemes) > 0 && !slices.Contains(schemes, u.Scheme):
		v.addf(field, value, "unsupported URL scheme %q (allowed: %v)", u.Scheme, schemes)
	}
}

// ListenAddr requires host:port; the host may be empty.
func (v *Validator) ListenAddr(field, value string) {
	_, port, err := net.SplitHostPort(value)
	if err != nil {
		v.addf(field, value, "invalid listen address: %v", err)
		return
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		v.addf(field, value, "port must be between 0 and 65535, got %q", port)
	}
}

func (v *Validator) Range(field string, value, minVal, maxVal int) {
	Between(v, field, value, minVal, maxVal)
}

func (v *Validator) NonNegative(field string, value int) {
	AtLeast(v, field, value, 0)
}

func (v *Validator) NotEmpty(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "cannot be empty", value)
	}
}

func (v *Validator) OneOf(field, value string, allowed []string) {
	if !slices.Contains(allowed, value) {
		v.addf(field, value, "must be one of %v, got %q", allowed, value)
	}
}

func (v *Validator) PositiveDuration(field string, d time.Duration) {
	if d <= 0 {
		v.addf(field, d, "must be positive, got %s", d)
	}
}

// Unique reports each duplicated value once.
func (v *Validator) Unique(field string, values []string) {
	for _, dup := range lo.FindDuplicates(values) {
		v.addf(field, dup, "duplicate value %q", dup)
	}
}

// Between requires minVal <= value <= maxVal.
func Between[T cmp.Ordered](v *Validator, field string, value, minVal, maxVal T) {
	if value < minVal || value > maxVal {
		v.addf(field, value, "value must be between %v and %v, got %v", minVal, maxVal, value)
	}
}

// AtLeast requires value >= minVal.
func AtLeast[T cmp.Ordered](v *Validator, field string, value, minVal T) {
	if value < minVal {
		v.addf(field, value, "must be at least %v, got %v", minVal, value)
	}
}
