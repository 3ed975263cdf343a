package batchsync

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/channelsync"
)

func TestParamsRequest(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
		out  *Request
		kind apperr.Kind
	}{
		{"ids", "channel_ids=1,2&channel_ids=3", &Request{ChannelIDs: []int{1, 2, 3}, Mode: channelsync.Recent}, ""},
		{"older than", "older_than=30m&mode=full&force=1", &Request{OlderThan: time.Minute * 30, Mode: channelsync.Full, Force: true}, ""},
		{"hot", "hot=1&verbose=true&concurrency=4", &Request{Hot: true, Mode: channelsync.Recent, Verbose: true, Concurrency: 4}, ""},
		{"no pause", "all=1&pause=0s", &Request{All: true, Mode: channelsync.Recent, Pause: -1}, ""},
		{"bad mode", "all=1&mode=deep", nil, apperr.InvalidInput},
		{"bad duration", "older_than=soon", nil, apperr.InvalidInput},
		{"negative duration", "older_than=-5m", nil, apperr.InvalidInput},
		{"bad id", "channel_ids=abc", nil, apperr.InvalidInput},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			vs, err := url.ParseQuery(tc.in)
			require.NoError(t, err)

			p, err := DecodeParams(vs)
			if err == nil {
				var req *Request
				req, err = p.Request()
				if tc.out != nil {
					a.Equal(tc.out, req)
				}
			}

			if tc.kind != "" {
				a.True(apperr.Is(err, tc.kind), "%v", err)
			} else {
				a.NoError(err)
			}
		})
	}
}

func TestRequestValuesRoundTrip(t *testing.T) {
	a := assert.New(t)

	in := Request{ChannelIDs: []int{4, 5}, Mode: channelsync.Full, Force: true}

	p, err := DecodeParams(in.Values())
	require.NoError(t, err)

	out, err := p.Request()
	require.NoError(t, err)

	a.Equal(&in, out)
}
