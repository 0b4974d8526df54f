package contentapi

import (
	"net/url"
	"slices"
	"strings"

	"github.com/samber/lo"
)

const videoBlockType = "ok_video"

// qualityOrder lists the known rendition types, best first.
var qualityOrder = []string{
	"ultra_hd", // 2160p
	"quad_hd",  // 1440p
	"full_hd",  // 1080p
	"high",     // 720p
	"medium",   // 480p
	"low",      // 360p
	"lowest",   // 240p
	"tiny",     // 144p
}

// FilterVideos keeps the video blocks and reduces each to its usable URLs
// and id. The result is never nil, so an empty post encodes as [].
func FilterVideos(blocks []Block) []VideoInfo {
	videos := lo.Filter(blocks, func(b Block, _ int) bool {
		return b.Type == videoBlockType
	})
	return lo.Map(videos, func(b Block, _ int) VideoInfo {
		return VideoInfo{
			VideoURLs: FilterVideoURLs(b.PlayerURLs),
			VideoID:   ParseVideoID(b.Preview),
		}
	})
}

// FilterVideoURLs drops renditions with an empty URL or unknown type and
// sorts the rest best quality first.
func FilterVideoURLs(urls []PlayerURL) []PlayerURL {
	known := lo.Filter(urls, func(u PlayerURL, _ int) bool {
		return u.URL != "" && lo.Contains(qualityOrder, u.Type)
	})
	slices.SortStableFunc(known, func(a, b PlayerURL) int {
		return lo.IndexOf(qualityOrder, a.Type) - lo.IndexOf(qualityOrder, b.Type)
	})
	return known
}

// ParseVideoID extracts the video id from a preview URL: the id query
// parameter of a videoPreview link, or the last path segment of an image
// host link. Anything else yields "".
func ParseVideoID(preview string) string {
	u, err := url.Parse(preview)
	if err != nil || u.Host == "" {
		return ""
	}

	if strings.Contains(u.Path, "videoPreview") {
		return u.Query().Get("id")
	}

	if strings.Contains(u.Hostname(), "images.boosty.to") {
		segments := strings.Split(u.Path, "/")
		return segments[len(segments)-1]
	}

	return ""
}
