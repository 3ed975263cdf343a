package batchsync

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/monoculum/formam"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/channelsync"
	"fknsrs.biz/p/feedsync/internal/stringutil"
)

// Params is the form shape of a Request, shared by the HTTP surface and the
// batch_sync job payload.
type Params struct {
	ChannelIDs  []int  `formam:"-"`
	OlderThan   string `formam:"older_than"`
	Hot         bool   `formam:"hot"`
	All         bool   `formam:"all"`
	Mode        string `formam:"mode"`
	Force       bool   `formam:"force"`
	Concurrency int    `formam:"concurrency"`
	Pause       string `formam:"pause"`
	Verbose     bool   `formam:"verbose"`
}

var decoder = formam.NewDecoder(&formam.DecoderOptions{TagName: "formam", IgnoreUnknownKeys: true})

// DecodeParams reads Params from form values. Channel ids may be repeated or
// comma separated.
func DecodeParams(vs url.Values) (*Params, error) {
	const op = "batchsync.DecodeParams"

	ids, err := stringutil.SplitInts(vs["channel_ids"])
	if err != nil {
		return nil, apperr.New(apperr.InvalidInput, op, err)
	}

	rest := make(url.Values, len(vs))
	for k, v := range vs {
		if k != "channel_ids" {
			rest[k] = v
		}
	}

	var p Params
	if err := decoder.Decode(rest, &p); err != nil {
		return nil, apperr.New(apperr.InvalidInput, op, err)
	}
	p.ChannelIDs = ids

	return &p, nil
}

func (p *Params) Request() (*Request, error) {
	const op = "batchsync.Params.Request"

	mode, err := channelsync.ParseMode(p.Mode)
	if err != nil {
		return nil, err
	}

	req := Request{
		ChannelIDs:  p.ChannelIDs,
		Hot:         p.Hot,
		All:         p.All,
		Mode:        mode,
		Force:       p.Force,
		Concurrency: p.Concurrency,
		Verbose:     p.Verbose,
	}

	if req.Concurrency < 0 {
		return nil, apperr.Errorf(apperr.InvalidInput, op, "concurrency must not be negative")
	}

	if p.OlderThan != "" {
		d, err := time.ParseDuration(p.OlderThan)
		if err != nil {
			return nil, apperr.New(apperr.InvalidInput, op, err)
		}
		if d <= 0 {
			return nil, apperr.Errorf(apperr.InvalidInput, op, "older_than must be positive")
		}
		req.OlderThan = d
	}

	if p.Pause != "" {
		d, err := time.ParseDuration(p.Pause)
		if err != nil {
			return nil, apperr.New(apperr.InvalidInput, op, err)
		}
		if d == 0 {
			d = -1
		}
		req.Pause = d
	}

	return &req, nil
}

// Values is the inverse of DecodeParams for the fields a Request carries.
func (r Request) Values() url.Values {
	vs := url.Values{}

	if len(r.ChannelIDs) > 0 {
		a := make([]string, len(r.ChannelIDs))
		for i, id := range r.ChannelIDs {
			a[i] = strconv.Itoa(id)
		}
		vs.Set("channel_ids", strings.Join(a, ","))
	}
	if r.OlderThan > 0 {
		vs.Set("older_than", r.OlderThan.String())
	}
	if r.Hot {
		vs.Set("hot", "true")
	}
	if r.All {
		vs.Set("all", "true")
	}
	if r.Mode != "" {
		vs.Set("mode", string(r.Mode))
	}
	if r.Force {
		vs.Set("force", "true")
	}
	if r.Concurrency > 0 {
		vs.Set("concurrency", strconv.Itoa(r.Concurrency))
	}
	if r.Verbose {
		vs.Set("verbose", "true")
	}

	return vs
}
