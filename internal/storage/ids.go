package storage

import (
	"github.com/google/uuid"
)

// entryNamespace scopes entry identifiers so they never collide with other SHA1 UUIDs.
var entryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("magnetcatalog/entries"))

// EntryID derives a stable identifier from a magnet URI. The same magnet
// always yields the same id across runs, which lets SQL upserts and API
// links survive a rebuild.
func EntryID(magnet string) string {
	return uuid.NewSHA1(entryNamespace, []byte(magnet)).String()
}
