package coordinator

import (
	"context"
	"errors"

	"github.com/wolfeidau/boosty-companion/contentapi"
	"github.com/wolfeidau/boosty-companion/message"
	"github.com/wolfeidau/boosty-companion/options"
)

func (c *Coordinator) openOptionsPage(ctx context.Context, _ *message.Message) (*message.Message, error) {
	if c.opener == nil {
		c.logger.Info("no options surface configured")
		return nil, nil
	}
	if err := c.opener.OpenOptions(ctx); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Coordinator) requestTimestamp(ctx context.Context, msg *message.Message) (*message.Message, error) {
	req, err := decode[message.TimestampRequest](msg)
	if err != nil {
		return nil, err
	}

	ts, err := c.repo.Timestamp(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return reply(msg, message.TimestampInfo, message.TimestampReply{Timestamp: ts})
}

func (c *Coordinator) saveTimestamp(ctx context.Context, msg *message.Message) (*message.Message, error) {
	req, err := decode[message.SaveTimestampRequest](msg)
	if err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, badRequest(errors.New("missing timestamp id"))
	}
	if req.Timestamp == nil {
		return nil, badRequest(errors.New("missing timestamp"))
	}
	return nil, c.repo.SaveTimestamp(ctx, req.ID, *req.Timestamp)
}

// requestContentData never fails once the request is valid: any lookup or
// upstream failure is answered with null content data.
func (c *Coordinator) requestContentData(ctx context.Context, msg *message.Message) (*message.Message, error) {
	req, err := decode[message.ContentDataRequest](msg)
	if err != nil {
		return nil, err
	}
	if err := req.Metadata.Validate(); err != nil {
		return nil, badRequest(err)
	}

	videos, err := c.videos.Videos(ctx, req.Metadata, req.AccessToken)
	if err != nil {
		c.logger.Warn("content data unavailable", "key", req.Metadata.CacheKey(), "error", err)
		videos = nil
	}
	return reply(msg, message.ContentDataInfo, message.ContentDataReply{ContentData: videos})
}

func (c *Coordinator) requestPlaybackRate(ctx context.Context, msg *message.Message) (*message.Message, error) {
	rate, err := c.repo.PlaybackRate(ctx)
	if err != nil {
		return nil, err
	}
	return reply(msg, message.PlaybackRateInfo, message.PlaybackRateReply{PlaybackRate: rate})
}

func (c *Coordinator) savePlaybackRate(ctx context.Context, msg *message.Message) (*message.Message, error) {
	req, err := decode[message.SavePlaybackRateRequest](msg)
	if err != nil {
		return nil, err
	}
	return nil, invalidAsBadRequest(c.repo.SavePlaybackRate(ctx, req.PlaybackRate))
}

func (c *Coordinator) requestOptions(ctx context.Context, msg *message.Message) (*message.Message, error) {
	opts, err := c.repo.Options(ctx)
	if err != nil {
		return nil, err
	}
	return reply(msg, message.OptionsInfo, message.OptionsReply{Options: opts})
}

func (c *Coordinator) saveOptions(ctx context.Context, msg *message.Message) (*message.Message, error) {
	req, err := decode[message.SaveOptionsRequest](msg)
	if err != nil {
		return nil, err
	}
	return nil, invalidAsBadRequest(c.repo.SaveOptions(ctx, req.Options))
}

// saveSyncOption flips the sync flag. The governor reads the flag on every
// run, so the synced scope joins or leaves the sweep from the next run on.
func (c *Coordinator) saveSyncOption(ctx context.Context, msg *message.Message) (*message.Message, error) {
	req, err := decode[message.SaveSyncOptionRequest](msg)
	if err != nil {
		return nil, err
	}

	opts, err := c.repo.SetSync(ctx, req.Sync)
	if err != nil {
		return nil, err
	}
	return reply(msg, message.OptionsInfo, message.OptionsReply{Options: opts})
}

func (c *Coordinator) syncOptions(ctx context.Context, msg *message.Message) (*message.Message, error) {
	opts, err := c.repo.SyncOptions(ctx)
	if err != nil {
		return nil, err
	}
	return reply(msg, message.OptionsInfo, message.OptionsReply{Options: opts})
}

func (c *Coordinator) requestTheme(ctx context.Context, msg *message.Message) (*message.Message, error) {
	theme, err := c.repo.Theme(ctx)
	if err != nil {
		return nil, err
	}
	return reply(msg, message.ThemeInfo, message.ThemeReply{Theme: theme})
}

func (c *Coordinator) toggleTheme(ctx context.Context, msg *message.Message) (*message.Message, error) {
	theme, err := c.repo.ToggleTheme(ctx)
	if err != nil {
		return nil, err
	}
	return reply(msg, message.ThemeInfo, message.ThemeReply{Theme: theme})
}

func invalidAsBadRequest(err error) error {
	if errors.Is(err, options.ErrInvalid) {
		return badRequest(err)
	}
	return err
}

var _ VideoSource = (*contentapi.Service)(nil)
