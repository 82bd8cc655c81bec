// Package version reports the release and wire protocol versions.
package version

import (
	"fmt"

	"github.com/pzverkov/quantum-auth/internal/constants"
)

// Release version components.
const (
	Major = 0
	Minor = 1
	Patch = 0
	// Label is the optional pre-release label.
	Label = "dev"
)

// String returns the release version, e.g. "v0.1.0-dev".
func String() string {
	v := fmt.Sprintf("v%d.%d.%d", Major, Minor, Patch)
	if Label != "" {
		v += "-" + Label
	}
	return v
}

// Wire returns the backend wire protocol version as "major.minor".
func Wire() string {
	return fmt.Sprintf("%d.%d", constants.ProtocolVersion>>8, constants.ProtocolVersion&0xff)
}

// Full names the release and the wire protocol it speaks.
func Full() string {
	return fmt.Sprintf("quantum-auth %s (wire %s)", String(), Wire())
}
