package ytutil

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"fknsrs.biz/p/feedsync/internal/ctxhttpclient"
	"fknsrs.biz/p/feedsync/internal/ytdirect"
)

func TestUploadsPlaylistID(t *testing.T) {
	for _, tc := range []struct {
		input  string
		output string
		ok     bool
	}{
		{"UCpNvmbdtY8WAzhdNUDxbT2g", "UUpNvmbdtY8WAzhdNUDxbT2g", true},
		{"@handle", "", false},
		{"UCshort", "", false},
		{"XXpNvmbdtY8WAzhdNUDxbT2g", "", false},
	} {
		t.Run(tc.input, func(t *testing.T) {
			a := assert.New(t)

			v, ok := UploadsPlaylistID(tc.input)
			a.Equal(tc.ok, ok)
			a.Equal(tc.output, v)
		})
	}
}

func TestExtractAndIdentifyID(t *testing.T) {
	for _, tc := range []struct {
		input  string
		idType IDType
		value  string
	}{
		{"UCpNvmbdtY8WAzhdNUDxbT2g", ChannelID, "UCpNvmbdtY8WAzhdNUDxbT2g"},
		{"https://www.youtube.com/channel/UCpNvmbdtY8WAzhdNUDxbT2g", ChannelID, "UCpNvmbdtY8WAzhdNUDxbT2g"},
		{"@someone", HandleID, "@someone"},
		{"https://www.youtube.com/@someone/videos", HandleID, "@someone"},
		{"https://www.youtube.com/playlist?list=PLabcdef", PlaylistID, "PLabcdef"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", VideoID, "dQw4w9WgXcQ"},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", VideoID, "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", VideoID, "dQw4w9WgXcQ"},
		{"nope nope nope", InvalidID, ""},
	} {
		t.Run(tc.input, func(t *testing.T) {
			a := assert.New(t)

			idType, value, err := ExtractAndIdentifyID(tc.input)
			if tc.idType == InvalidID {
				a.Error(err)
			} else {
				a.NoError(err)
			}
			a.Equal(tc.idType, idType)
			a.Equal(tc.value, value)
		})
	}
}

func TestFindChannelID(t *testing.T) {
	a := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprint(rw, `<html><head><meta itemprop="channelId" content="UCpNvmbdtY8WAzhdNUDxbT2g"></head></html>`)
	}))
	defer srv.Close()

	old := ytdirect.BaseURL
	ytdirect.BaseURL = srv.URL
	defer func() { ytdirect.BaseURL = old }()

	ctx := ctxhttpclient.WithHTTPClient(context.Background(), srv.Client())

	for _, input := range []string{
		"UCpNvmbdtY8WAzhdNUDxbT2g",
		"@someone",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		srv.URL + "/c/custom",
	} {
		id, err := FindChannelID(ctx, input)
		a.NoError(err, input)
		a.Equal("UCpNvmbdtY8WAzhdNUDxbT2g", id, input)
	}

	_, err := FindChannelID(ctx, "?? nope")
	a.Error(err)
}
