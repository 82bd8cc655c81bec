// Package protocol defines the wire protocol spoken between a remote
// quantum-channel client and a simulator backend.
//
// Protocol Version: 1.0
//
// A connection starts with an unencrypted ClientHello/ServerHello exchange
// that establishes the link keys. Every later message travels inside an
// encrypted link record: the client sends one Request and waits for exactly
// one Response before sending the next.
package protocol

import (
	"encoding/binary"
	"strconv"

	"github.com/pzverkov/quantum-auth/internal/constants"
)

// Version is a wire protocol version. Peers interoperate when their major
// versions match; a minor bump only adds message types or optional fields.
type Version struct {
	Major uint8
	Minor uint8
}

// Current is the version this build speaks.
var Current = VersionFromUint16(constants.ProtocolVersion)

// VersionFromUint16 splits major<<8|minor.
func VersionFromUint16(u uint16) Version {
	return Version{Major: uint8(u >> 8), Minor: uint8(u)}
}

func (v Version) Uint16() uint16 {
	return uint16(v.Major)<<8 | uint16(v.Minor)
}

// ParseVersion reads a big-endian version. Input shorter than two bytes
// yields the zero Version, which is compatible with nothing.
func ParseVersion(b []byte) Version {
	if len(b) < 2 {
		return Version{}
	}
	return VersionFromUint16(binary.BigEndian.Uint16(b))
}

// Compatible reports whether a peer speaking other can talk to v.
func (v Version) Compatible(other Version) bool {
	return v.Major != 0 && v.Major == other.Major
}

func (v Version) String() string {
	return strconv.Itoa(int(v.Major)) + "." + strconv.Itoa(int(v.Minor))
}

// ProtocolID is mixed into the handshake transcript for domain separation.
const ProtocolID = constants.ProtocolName
