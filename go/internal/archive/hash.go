package archive

import "regexp"

// HashLength is the number of hex characters in a content hash.
const HashLength = 64

// hashPattern only accepts a standalone run so longer digests are not truncated.
var hashPattern = regexp.MustCompile(`\b[0-9a-f]{64}\b`)

// ParseHash returns the first content hash printed by a publish command.
func ParseHash(output []byte) (string, error) {
	match := hashPattern.Find(output)
	if match == nil {
		return "", ErrHashNotFound
	}
	return string(match), nil
}
