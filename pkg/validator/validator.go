package validator

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// All returns the first non-nil error.
func All(errors ...error) error {
	for _, err := range errors {
		if err != nil {
			return err
		}
	}
	return nil
}

func Map[T any](items []T, f func(T, string) error, description string) error {
	for i, item := range items {
		if err := f(item, fmt.Sprintf("%s[%d]", description, i)); err != nil {
			return err
		}
	}
	return nil
}

// MapDict checks every entry in key order so the reported error is stable.
func MapDict[T any](items map[string]T, f func(string, T, string) error, description string) error {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if err := f(key, items[key], fmt.Sprintf("%s.%s", description, key)); err != nil {
			return err
		}
	}
	return nil
}

func NotEmpty(field, description string) error {
	if field == "" {
		return fmt.Errorf("%s must not be empty", description)
	}
	return nil
}

func NotEmptySlice[T any](slice []T, description string) error {
	if len(slice) == 0 {
		return fmt.Errorf("%s must not be empty", description)
	}
	return nil
}

func NonNegative[T cmp.Ordered](field T, description string) error {
	var zero T
	if field < zero {
		return fmt.Errorf("%s must not be negative, got %v", description, field)
	}
	return nil
}

func NoDuplicates[T comparable](slice []T, description string) error {
	seen := make(map[T]struct{})
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			return fmt.Errorf("%s contains duplicate value: %v", description, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

func MatchesAllowed[T comparable](field T, allowed []T, description string) error {
	if !slices.Contains(allowed, field) {
		return fmt.Errorf("%s must be one of %v, got %v", description, allowed, field)
	}
	return nil
}

func HasNoJinja(field string, description string) error {
	if field != "" && (strings.Contains(field, "{{") || strings.Contains(field, "{%")) {
		return fmt.Errorf("%s must not contain jinja templating", description)
	}
	return nil
}
