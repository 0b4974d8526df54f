package message

import (
	"github.com/wolfeidau/boosty-companion/contentapi"
	"github.com/wolfeidau/boosty-companion/options"
)

// TimestampRequest asks for the saved position of a video.
type TimestampRequest struct {
	ID string `json:"id"`
}

// SaveTimestampRequest stores a position. An explicit zero clears it; a
// missing timestamp is a bad request.
type SaveTimestampRequest struct {
	ID        string   `json:"id"`
	Timestamp *float64 `json:"timestamp"`
}

// ContentDataRequest asks for the videos of a post or dialog.
type ContentDataRequest struct {
	Metadata    contentapi.Metadata `json:"metadata"`
	AccessToken string              `json:"accessToken"`
}

// SavePlaybackRateRequest stores the playback rate.
type SavePlaybackRateRequest struct {
	PlaybackRate float64 `json:"playbackRate"`
}

// SaveOptionsRequest overwrites the options blob.
type SaveOptionsRequest struct {
	Options options.UserOptions `json:"options"`
}

// SaveSyncOptionRequest turns cross-device sync on or off.
type SaveSyncOptionRequest struct {
	Sync bool `json:"sync"`
}

// TimestampReply carries a saved position, zero when none.
type TimestampReply struct {
	Timestamp float64 `json:"timestamp"`
}

// ContentDataReply carries the videos. A nil slice encodes as null and
// means no data was available, which differs from an empty list.
type ContentDataReply struct {
	ContentData []contentapi.VideoInfo `json:"contentData"`
}

// PlaybackRateReply carries the saved playback rate.
type PlaybackRateReply struct {
	PlaybackRate float64 `json:"playbackRate"`
}

// ThemeReply carries the current theme.
type ThemeReply struct {
	Theme options.Theme `json:"theme"`
}

// OptionsReply carries the current options.
type OptionsReply struct {
	Options options.UserOptions `json:"options"`
}
