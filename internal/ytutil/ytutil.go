package ytutil

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"fknsrs.biz/p/feedsync/internal/ytdirect"
)

type IDType string

const (
	InvalidID  = IDType("invalid")
	ChannelID  = IDType("channel")
	HandleID   = IDType("handle")
	PlaylistID = IDType("playlist")
	VideoID    = IDType("video")
)

type ID struct {
	Type  IDType
	Value string
}

func ExtractAndIdentifyIDs(text string, ignoreInvalid bool) ([]ID, error) {
	var ids []ID

	for _, urlOrID := range strings.Fields(text) {
		if idType, id, err := ExtractAndIdentifyID(urlOrID); err == nil {
			ids = append(ids, ID{idType, id})
		} else if !ignoreInvalid {
			return nil, fmt.Errorf("ytutil.ExtractAndIdentifyIDs: could not identify %q: %w", urlOrID, err)
		}
	}

	return ids, nil
}

func ExtractAndIdentifyID(urlOrID string) (IDType, string, error) {
	if channelID, err := ExtractChannelID(urlOrID); err == nil {
		return ChannelID, channelID, nil
	}

	if handle, err := ExtractHandle(urlOrID); err == nil {
		return HandleID, handle, nil
	}

	if playlistID, err := ExtractPlaylistID(urlOrID); err == nil {
		return PlaylistID, playlistID, nil
	}

	if videoID, err := ExtractVideoID(urlOrID); err == nil {
		return VideoID, videoID, nil
	}

	return InvalidID, "", fmt.Errorf("ytutil.ExtractAndIdentifyID: could not extract a known ID type")
}

// IsStandardChannelID is true for the 24 character UC-prefixed form.
func IsStandardChannelID(id string) bool {
	return len(id) == 24 && strings.HasPrefix(id, "UC")
}

// UploadsPlaylistID derives a channel's uploads playlist by swapping the UC
// prefix for UU. It only works on standard channel ids.
func UploadsPlaylistID(channelID string) (string, bool) {
	if !IsStandardChannelID(channelID) {
		return "", false
	}

	return "UU" + channelID[2:], true
}

func ExtractChannelID(urlOrID string) (string, error) {
	if IsStandardChannelID(urlOrID) {
		return urlOrID, nil
	}

	if parsed, err := url.Parse(urlOrID); err == nil && parsed.Host != "" {
		if parsed.Path == "/channel" || strings.HasPrefix(parsed.Path, "/channel/") {
			id := parsed.Query().Get("channel_id")

			if id == "" {
				parts := strings.Split(parsed.Path, "/")
				if len(parts) >= 3 {
					id = parts[2]
				}
			}

			if !IsStandardChannelID(id) {
				return "", fmt.Errorf("ytutil.ExtractChannelID: invalid channel id; should be 24 characters starting with UC")
			}

			return id, nil
		}
	}

	return "", fmt.Errorf("ytutil.ExtractChannelID: invalid url or id; could not find a known pattern")
}

// ExtractHandle accepts "@name" or a youtube.com/@name URL and returns the
// handle with its @.
func ExtractHandle(urlOrHandle string) (string, error) {
	s := strings.TrimSpace(urlOrHandle)

	if strings.HasPrefix(s, "@") && len(s) > 1 && !strings.ContainsAny(s, "/?# ") {
		return s, nil
	}

	if parsed, err := url.Parse(s); err == nil && strings.HasSuffix(parsed.Host, "youtube.com") {
		parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		if len(parts) >= 1 && strings.HasPrefix(parts[0], "@") && len(parts[0]) > 1 {
			return parts[0], nil
		}
	}

	return "", fmt.Errorf("ytutil.ExtractHandle: not a handle")
}

func ExtractPlaylistID(urlOrID string) (string, error) {
	u, err := url.Parse(urlOrID)
	if err == nil && u.Scheme != "" && u.Host == "www.youtube.com" && u.Path == "/playlist" {
		return ExtractPlaylistID(u.Query().Get("list"))
	}

	playlistID := strings.TrimSpace(urlOrID)
	if len(playlistID) == 0 {
		return "", fmt.Errorf("ytutil.ExtractPlaylistID: empty input")
	}

	if strings.HasPrefix(playlistID, "PL") || strings.HasPrefix(playlistID, "UU") || strings.HasPrefix(playlistID, "FL") {
		return playlistID, nil
	}

	if len(playlistID) == 34 || len(playlistID) == 41 {
		return playlistID, nil
	}

	return "", fmt.Errorf("ytutil.ExtractPlaylistID: invalid url or id; could not find a known pattern")
}

func ExtractVideoID(urlOrID string) (string, error) {
	if len(urlOrID) == 11 && !strings.ContainsAny(urlOrID, "/.:@") {
		return urlOrID, nil
	}

	parsed, err := url.Parse(urlOrID)
	if err != nil {
		return "", err
	}

	if parsed.Host == "www.youtube.com" && parsed.Path == "/watch" {
		if id := parsed.Query().Get("v"); id != "" {
			if len(id) != 11 {
				return "", fmt.Errorf("invalid video id for v parameter in youtube.com url; length should be 11")
			}

			return id, nil
		}

		return "", fmt.Errorf("no v query parameter in youtube.com url")
	}

	if parsed.Host == "www.youtube.com" && strings.HasPrefix(parsed.Path, "/shorts/") {
		if id := strings.TrimPrefix(parsed.Path, "/shorts/"); len(id) == 11 {
			return id, nil
		}

		return "", fmt.Errorf("invalid video id for shorts url; length should be 11")
	}

	if parsed.Host == "youtu.be" {
		if id := strings.TrimPrefix(parsed.Path, "/"); id != "" {
			if len(id) != 11 {
				return "", fmt.Errorf("invalid video id for youtu.be url; length should be 11")
			}

			return id, nil
		}

		return "", fmt.Errorf("no path content found in youtu.be url")
	}

	return "", fmt.Errorf("invalid url or id; could not find a known pattern")
}

// FindChannelID turns any channel, handle, playlist, video, or channel page
// URL into a standard channel id, loading the relevant page when the id can't
// be read off the input.
func FindChannelID(ctx context.Context, urlOrID string) (string, error) {
	if idType, id, err := ExtractAndIdentifyID(urlOrID); err == nil {
		var pageURL string

		switch idType {
		case ChannelID:
			return id, nil
		case HandleID:
			pageURL = ytdirect.HandleURL(id)
		case PlaylistID:
			pageURL = ytdirect.PlaylistURL(id)
		case VideoID:
			pageURL = ytdirect.VideoURL(id)
		}

		if pageURL != "" {
			channelID, err := ytdirect.ResolveChannelID(ctx, pageURL)
			if err != nil {
				return "", fmt.Errorf("ytutil.FindChannelID: %w", err)
			}
			return channelID, nil
		}
	}

	if strings.HasPrefix(urlOrID, "http:") || strings.HasPrefix(urlOrID, "https:") {
		channelID, err := ytdirect.ResolveChannelID(ctx, urlOrID)
		if err != nil {
			return "", fmt.Errorf("ytutil.FindChannelID: %w", err)
		}
		return channelID, nil
	}

	return "", fmt.Errorf("ytutil.FindChannelID: no strategy available to extract channel ID")
}
