package contentapi

import (
	"errors"
	"fmt"
)

// ContentType is the kind of page a UI context is showing.
type ContentType string

const (
	Post   ContentType = "post"
	Dialog ContentType = "dialog"
)

// ErrUnknownContent is returned for metadata that names neither a post nor a dialog.
var ErrUnknownContent = errors.New("contentapi: unknown content type")

// Metadata identifies the post or dialog whose videos are wanted.
// BlogName is required for posts only.
type Metadata struct {
	ID       string      `json:"id"`
	Type     ContentType `json:"type"`
	BlogName string      `json:"blogName,omitempty"`
}

// Validate checks that m names a fetchable resource.
func (m Metadata) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrUnknownContent)
	}
	switch m.Type {
	case Post:
		if m.BlogName == "" {
			return fmt.Errorf("%w: post %s without blog name", ErrUnknownContent, m.ID)
		}
		return nil
	case Dialog:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownContent, m.Type)
	}
}

// CacheKey returns the storage key for m's videos.
func (m Metadata) CacheKey() string {
	if m.Type == Dialog {
		return "d:" + m.ID
	}
	return "p:" + m.ID
}

// Block is one content block of a post or dialog message. Only video
// blocks carry player URLs and a preview.
type Block struct {
	Type       string      `json:"type"`
	PlayerURLs []PlayerURL `json:"playerUrls,omitempty"`
	Preview    string      `json:"preview,omitempty"`
}

// PlayerURL is one rendition of a video.
type PlayerURL struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// VideoInfo is what the coordinator caches and returns per video.
type VideoInfo struct {
	VideoURLs []PlayerURL `json:"videoUrls"`
	VideoID   string      `json:"videoId,omitempty"`
}

type blogResponse struct {
	Data []Block `json:"data"`
}

type dialogMessage struct {
	Data []Block `json:"data"`
}

type dialogResponse struct {
	Data []dialogMessage `json:"data"`
}
