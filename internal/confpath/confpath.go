// Package confpath provides the pure functions shared by every component
// that reasons about config files: content checksums and the deterministic
// mapping from a record's identity to its relative on-disk path.
package confpath

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/proxyforge/proxyforge/internal/model"
)

// Extension is the file extension for materialized config documents.
const Extension = ".yaml"

// Checksum returns the SHA-256 hex digest of content. It is computed over the
// exact bytes written to (or read back from) disk, so "does the file match
// the record" is a pure string equality check.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ChecksumString is Checksum over the UTF-8 bytes of s.
func ChecksumString(s string) string {
	return Checksum([]byte(s))
}

// ValidGroupName reports whether name is safe to embed as a single path
// segment under the base path. Separators and dot segments would let a name
// address files outside the subtree the engine owns.
func ValidGroupName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// ResolvePath derives the relative file path for a record. The filename uses
// the record id, not its mutable name, so paths are stable across renames.
// A scoped record with an unresolvable or unsafe group name falls back to
// the standalone layout; the result never escapes the base path.
func ResolvePath(tier model.StorageTier, groupName string, class model.ConfigClass, id string) string {
	filename := fmt.Sprintf("%s-%s%s", class, id, Extension)
	if tier == model.TierScoped && ValidGroupName(groupName) {
		return path.Join("dynamic", "groups", groupName, filename)
	}
	return path.Join("dynamic", "standalone", filename)
}

// ResolveRecordPath is ResolvePath applied to a record, with the group name
// already resolved by the caller (empty when the record has no group or the
// group row is gone).
func ResolveRecordPath(rec *model.ConfigRecord, groupName string) string {
	return ResolvePath(rec.Tier, groupName, rec.Classification, rec.ID)
}

// GroupDir returns the relative directory that holds a group's scoped files.
func GroupDir(groupName string) string {
	return path.Join("dynamic", "groups", groupName)
}
