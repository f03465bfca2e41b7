package catalog

import (
	"strconv"
	"strings"

	"magnetcatalog/internal/document"
)

const minPosterWidth = 100

// PickPoster returns the first image on a topic page that looks like a
// poster: not a gif/png, not an avatar or icon, and declared wider than
// 100px. placeholder is returned when nothing qualifies.
func PickPoster(doc *document.Document, placeholder string) string {
	for _, img := range doc.FindAll("img") {
		src, _ := img.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		lower := strings.ToLower(src)
		if strings.HasSuffix(lower, ".gif") || strings.HasSuffix(lower, ".png") {
			continue
		}
		if strings.Contains(lower, "avatar") || strings.Contains(lower, "icon") {
			continue
		}
		raw, _ := img.Attr("width")
		width, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || width <= minPosterWidth {
			continue
		}
		u, err := doc.Resolve(src)
		if err != nil {
			continue
		}
		return u.String()
	}
	return placeholder
}
