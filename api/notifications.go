package api

import (
	"net/http"

	"github.com/GetStream/stream-social-feed/feed"
)

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request, actor feed.Actor) {
	nf, err := a.Service.Notifications(r.Context(), actor.ID)
	if err != nil {
		a.respondServiceError(w, err, "Could not list notifications")
		return
	}
	a.respond(w, http.StatusOK, nf)
}

func (a *API) unreadCount(w http.ResponseWriter, r *http.Request, actor feed.Actor) {
	type response struct {
		UnreadCount int `json:"unread_count"`
	}

	n, err := a.Service.UnreadCount(r.Context(), actor.ID)
	if err != nil {
		a.respondServiceError(w, err, "Could not count notifications")
		return
	}
	a.respond(w, http.StatusOK, response{UnreadCount: n})
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request, actor feed.Actor) {
	type response struct {
		Notification feed.Notification `json:"notification"`
		UnreadCount  int               `json:"unread_count"`
	}

	n, count, err := a.Service.MarkRead(r.Context(), actor.ID, r.PathValue("notificationID"))
	if err != nil {
		a.respondServiceError(w, err, "Could not mark notification as read")
		return
	}
	a.respond(w, http.StatusOK, response{Notification: n, UnreadCount: count})
}

func (a *API) markAllRead(w http.ResponseWriter, r *http.Request, actor feed.Actor) {
	nf, err := a.Service.MarkAllRead(r.Context(), actor.ID)
	if err != nil {
		a.respondServiceError(w, err, "Could not mark notifications as read")
		return
	}
	a.Logger.Info("Marked all notifications as read", "recipient", actor.ID)
	a.respond(w, http.StatusOK, nf)
}
