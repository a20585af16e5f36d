// Package semver checks connection URI protocol versions against the range the engine speaks.
package semver

import (
	"fmt"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:version"

// SupportedRange is the protocol range understood by this engine. URIs carry the bare
// major ("1"), which is read as 1.0.0.
const SupportedRange = ">= 1.0.0, < 2.0.0"

// ParseVersion parses a URI version field. A bare major ("1") and major.minor ("1.2") are
// accepted and padded with zeros.
func ParseVersion(raw string) (*masterminds.Version, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s - empty version", logPrefix)
	}
	v, err := masterminds.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid version %q: %w", logPrefix, raw, err)
	}
	return v, nil
}

// Supports reports whether version satisfies the constraint expression.
func Supports(constraint, version string) (bool, error) {
	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("%s - invalid constraint %q: %w", logPrefix, constraint, err)
	}
	v, err := ParseVersion(version)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

// IsSupported reports whether a URI version is within SupportedRange. Unparseable
// versions are not supported.
func IsSupported(version string) bool {
	ok, err := Supports(SupportedRange, version)
	return err == nil && ok
}
