package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gost/godata"
	"github.com/monoculum/formam"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/channelsync"
	"fknsrs.biz/p/feedsync/internal/chzzk"
	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/ctxlogger"
	"fknsrs.biz/p/feedsync/internal/httputil"
	"fknsrs.biz/p/feedsync/internal/store"
	"fknsrs.biz/p/feedsync/internal/upstream"
	"fknsrs.biz/p/feedsync/internal/ytutil"
	"fknsrs.biz/p/feedsync/models"
)

var decoder = formam.NewDecoder(&formam.DecoderOptions{TagName: "formam", IgnoreUnknownKeys: true})

func (a *API) ListChannels(rw http.ResponseWriter, r *http.Request) {
	const op = "handlers.API.ListChannels"

	q, err := godata.ParseUrlQuery(r.URL.Query())
	if err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.InvalidInput, op, err))
		return
	}

	channels, err := a.Store.ListChannels(r.Context(), q)
	if err != nil {
		if errors.Is(err, store.ErrInvalidQuery) {
			httputil.WriteError(rw, r, apperr.New(apperr.InvalidInput, op, err))
			return
		}

		httputil.WriteError(rw, r, apperr.New(apperr.StorageError, op, err))
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, map[string]interface{}{"channels": channels})
}

type createChannelInput struct {
	Platform   string `formam:"platform"`
	ExternalID string `formam:"external_id"`
	CreatorID  *int   `formam:"creator_id"`
	Title      string `formam:"title"`
}

// CreateChannel registers a channel. YouTube input may be any channel,
// handle, playlist, or video URL; chzzk input may be a channel id or page
// URL.
func (a *API) CreateChannel(rw http.ResponseWriter, r *http.Request) {
	const op = "handlers.API.CreateChannel"

	vs, err := httputil.ReadValues(r)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	var input createChannelInput
	if err := decoder.Decode(vs, &input); err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.InvalidInput, op, err))
		return
	}

	platform, err := upstream.ParsePlatform(input.Platform)
	if err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.InvalidInput, op, err))
		return
	}

	if input.ExternalID == "" {
		httputil.WriteError(rw, r, apperr.Errorf(apperr.InvalidInput, op, "external_id is required"))
		return
	}

	var externalID string
	switch platform {
	case upstream.YouTube:
		externalID, err = ytutil.FindChannelID(r.Context(), input.ExternalID)
	case upstream.Chzzk:
		externalID, err = chzzk.ExtractChannelID(input.ExternalID)
	}
	if err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.InvalidInput, op, err))
		return
	}

	now, err := ctxclock.Now(r.Context())
	if err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.Unknown, op, err))
		return
	}

	channel := models.Channel{
		CreatorID:  input.CreatorID,
		Platform:   string(platform),
		ExternalID: externalID,
		Title:      input.Title,
	}

	if err := a.Store.CreateChannel(r.Context(), &channel, now); err != nil {
		switch {
		case errors.Is(err, store.ErrExists):
			httputil.WriteJSON(rw, http.StatusConflict, map[string]interface{}{
				"error": httputil.ErrorBody{Kind: apperr.InvalidInput, Message: err.Error()},
			})
		case errors.Is(err, store.ErrNotFound):
			httputil.WriteError(rw, r, apperr.New(apperr.InvalidInput, op, err))
		default:
			httputil.WriteError(rw, r, apperr.New(apperr.StorageError, op, err))
		}
		return
	}

	if platform == upstream.YouTube {
		if playlistID, ok := ytutil.UploadsPlaylistID(externalID); ok {
			if err := a.Store.BackfillUploadsPlaylist(r.Context(), channel.ID, playlistID); err != nil {
				ctxlogger.GetLogger(r.Context()).WithError(err).Warn("could not record uploads playlist")
			} else {
				channel.UploadsPlaylistID = playlistID
			}
		}
	}

	httputil.WriteJSON(rw, http.StatusCreated, map[string]interface{}{"channel": channel})
}

type createCreatorInput struct {
	Name string `formam:"name"`
}

func (a *API) CreateCreator(rw http.ResponseWriter, r *http.Request) {
	const op = "handlers.API.CreateCreator"

	vs, err := httputil.ReadValues(r)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	var input createCreatorInput
	if err := decoder.Decode(vs, &input); err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.InvalidInput, op, err))
		return
	}
	if input.Name == "" {
		httputil.WriteError(rw, r, apperr.Errorf(apperr.InvalidInput, op, "name is required"))
		return
	}

	now, err := ctxclock.Now(r.Context())
	if err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.Unknown, op, err))
		return
	}

	creator := models.Creator{Name: input.Name}
	if err := a.Store.CreateCreator(r.Context(), &creator, now); err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.StorageError, op, err))
		return
	}

	httputil.WriteJSON(rw, http.StatusCreated, map[string]interface{}{"creator": creator})
}

type syncInput struct {
	Mode  string `formam:"mode"`
	Force bool   `formam:"force"`
}

// SyncChannel runs one channel sync inline. A cooldown answers 429 with a
// Retry-After header.
func (a *API) SyncChannel(rw http.ResponseWriter, r *http.Request) {
	const op = "handlers.API.SyncChannel"

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.InvalidInput, op, err))
		return
	}

	vs, err := httputil.ReadValues(r)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	var input syncInput
	if err := decoder.Decode(vs, &input); err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.InvalidInput, op, err))
		return
	}

	mode, err := channelsync.ParseMode(input.Mode)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	res, err := a.Syncer.Sync(r.Context(), id, mode, input.Force)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, map[string]interface{}{
		"stats":         res,
		"cooldownUntil": res.CooldownUntil,
	})
}
