package domain

import "strings"

// AssetKind enumerates asset types.
type AssetKind string

const (
	AssetKindImage AssetKind = "image"
	AssetKindVideo AssetKind = "video"
)

// AssetKindForMIME maps a content type onto an asset kind, defaulting to image.
func AssetKindForMIME(mime string) AssetKind {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), "video/") {
		return AssetKindVideo
	}
	return AssetKindImage
}
