package api

import (
	"errors"
	"net/http"

	"github.com/GetStream/stream-social-feed/feed"
)

func (a *API) toggleFollow(w http.ResponseWriter, r *http.Request, actor feed.Actor) {
	type response struct {
		Following bool `json:"following"`
	}

	following, err := a.Service.ToggleFollow(r.Context(), actor, r.PathValue("userID"))
	if errors.Is(err, feed.ErrNotificationFailed) {
		a.respondPartial(w, err, response{Following: following})
		return
	}
	if err != nil {
		a.respondServiceError(w, err, "Could not toggle follow")
		return
	}

	a.respond(w, http.StatusOK, response{Following: following})
}

func (a *API) profile(w http.ResponseWriter, r *http.Request, actor feed.Actor) {
	p, err := a.Service.Profile(r.Context(), actor, r.PathValue("username"))
	if err != nil {
		a.respondServiceError(w, err, "Could not get profile")
		return
	}
	a.respond(w, http.StatusOK, p)
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request, actor feed.Actor) {
	type request struct {
		Bio    *string `json:"bio" validate:"omitempty,max=280"`
		Avatar *string `json:"avatar" validate:"omitempty,url"`
	}

	var body request
	if ok := a.decodeBody(w, r, &body); !ok {
		return
	}

	u, err := a.Service.UpdateProfile(r.Context(), actor, feed.ProfileUpdate{
		Bio:    body.Bio,
		Avatar: body.Avatar,
	})
	if err != nil {
		a.respondServiceError(w, err, "Could not update profile")
		return
	}

	a.respond(w, http.StatusOK, u)
}
