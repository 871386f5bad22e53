package api

import (
	"errors"
	"net/http"

	"github.com/GetStream/stream-social-feed/feed"
	"github.com/samber/lo"
)

func (a *API) listPosts(w http.ResponseWriter, r *http.Request, _ feed.Actor) {
	type response struct {
		Posts []feed.Post `json:"posts"`
	}

	page, err := pageParam(r)
	if err != nil {
		a.respondServiceError(w, err, "Invalid page")
		return
	}

	posts, err := a.Service.ListPosts(r.Context(), page)
	if err != nil {
		a.respondServiceError(w, err, "Could not list posts")
		return
	}
	a.Logger.Info("Listed posts", "page", page, "count", len(posts))

	a.respond(w, http.StatusOK, response{Posts: posts})
}

func (a *API) listUserPosts(w http.ResponseWriter, r *http.Request, _ feed.Actor) {
	type response struct {
		Posts []feed.Post `json:"posts"`
	}

	posts, err := a.Service.ListUserPosts(r.Context(), r.PathValue("username"))
	if err != nil {
		a.respondServiceError(w, err, "Could not list posts")
		return
	}

	a.respond(w, http.StatusOK, response{Posts: posts})
}

func (a *API) getPost(w http.ResponseWriter, r *http.Request, _ feed.Actor) {
	p, err := a.Service.GetPost(r.Context(), r.PathValue("postID"))
	if err != nil {
		a.respondServiceError(w, err, "Could not get post")
		return
	}
	a.respond(w, http.StatusOK, p)
}

func (a *API) createPost(w http.ResponseWriter, r *http.Request, actor feed.Actor) {
	type request struct {
		Content  string  `json:"content" validate:"required_without=Media"`
		Location string  `json:"location"`
		Media    []Media `json:"media" validate:"max=4,dive"`
	}

	var body request
	if ok := a.decodeBody(w, r, &body); !ok {
		return
	}

	p, err := a.Service.CreatePost(r.Context(), actor, feed.NewPost{
		Content:  body.Content,
		Location: body.Location,
		Media: lo.Map(body.Media, func(m Media, _ int) feed.Media {
			return feed.Media{URL: m.URL, Kind: feed.MediaKind(m.Type)}
		}),
	})
	if err != nil {
		a.respondServiceError(w, err, "Could not create post")
		return
	}

	a.respond(w, http.StatusCreated, p)
}

func (a *API) addComment(w http.ResponseWriter, r *http.Request, actor feed.Actor) {
	type request struct {
		Content string `json:"content" validate:"required"`
	}

	var body request
	if ok := a.decodeBody(w, r, &body); !ok {
		return
	}

	p, err := a.Service.AddComment(r.Context(), actor, r.PathValue("postID"), body.Content)
	if errors.Is(err, feed.ErrNotificationFailed) {
		a.respondPartial(w, err, p)
		return
	}
	if err != nil {
		a.respondServiceError(w, err, "Could not add comment")
		return
	}

	a.respond(w, http.StatusCreated, p)
}

func (a *API) toggleLike(w http.ResponseWriter, r *http.Request, actor feed.Actor) {
	type response struct {
		Post  feed.Post `json:"post"`
		Liked bool      `json:"liked"`
	}

	p, liked, err := a.Service.ToggleLike(r.Context(), actor, r.PathValue("postID"))
	if errors.Is(err, feed.ErrNotificationFailed) {
		a.respondPartial(w, err, response{Post: p, Liked: liked})
		return
	}
	if err != nil {
		a.respondServiceError(w, err, "Could not toggle like")
		return
	}

	a.respond(w, http.StatusOK, response{Post: p, Liked: liked})
}
