package events

import "strings"

// normalizeAsset trims surrounding whitespace. Asset identifiers are case
// sensitive so collectible token ids survive unchanged.
func normalizeAsset(asset string) string {
	return strings.TrimSpace(asset)
}
