// Package topics implements MQTT 3.1.1 topic name and topic filter handling:
// validation of both grammars and wildcard matching of filters against names.
package topics

import (
	"errors"
	"strings"
)

const maxTopicLength = 65535

var (
	ErrEmptyTopic        = errors.New("topic must not be empty")
	ErrTopicTooLong      = errors.New("topic exceeds maximum length")
	ErrWildcardInName    = errors.New("topic name must not contain wildcards")
	ErrInvalidWildcard   = errors.New("wildcard must occupy an entire topic level")
	ErrMultiLevelNotLast = errors.New("multi-level wildcard must be the final topic level")
)

// ValidateName checks a concrete, publishable topic name.
func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrEmptyTopic
	}
	if len(name) > maxTopicLength {
		return ErrTopicTooLong
	}
	if strings.ContainsAny(name, "+#") {
		return ErrWildcardInName
	}
	return nil
}

// ValidateFilter checks a subscribable topic filter. `+` must occupy a whole
// level; `#` must be the final level.
func ValidateFilter(filter string) error {
	if len(filter) == 0 {
		return ErrEmptyTopic
	}
	if len(filter) > maxTopicLength {
		return ErrTopicTooLong
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.ContainsRune(level, '+') && level != "+" {
			return ErrInvalidWildcard
		}
		if strings.ContainsRune(level, '#') {
			if level != "#" {
				return ErrInvalidWildcard
			}
			if i != len(levels)-1 {
				return ErrMultiLevelNotLast
			}
		}
	}

	return nil
}

// Match reports whether a topic filter matches a concrete topic name.
//
// `+` matches exactly one level; a trailing `#` matches the remaining levels
// including the parent itself, so filter "a/#" matches name "a". Names whose
// first level begins with `$` are not matched by filters beginning with a
// wildcard [MQTT-4.7.2-1].
func Match(filter, name string) bool {
	if len(filter) == 0 || len(name) == 0 {
		return false
	}

	// A $-prefixed name is only reachable through a $-prefixed filter.
	if (filter[0] == '$') != (name[0] == '$') {
		return false
	}

	fLevels := strings.Split(filter, "/")
	nLevels := strings.Split(name, "/")

	for i, fl := range fLevels {
		if fl == "#" {
			// Valid filters only carry # in final position; it covers the
			// parent level and everything below it, so "a/#" matches "a".
			return true
		}

		if i >= len(nLevels) {
			return false
		}

		if fl != "+" && fl != nLevels[i] {
			return false
		}
	}

	return len(fLevels) == len(nLevels)
}
