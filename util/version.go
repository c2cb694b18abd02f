package util

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ValidateEngineVersion checks that a site engine version is empty or a parseable version
// such as "18", "0.121" or "4.3.2".
func ValidateEngineVersion(version string) error {
	if version == "" {
		return nil
	}
	if _, err := semver.NewVersion(version); err != nil {
		return fmt.Errorf("invalid engine version %q: %w", version, err)
	}
	return nil
}
