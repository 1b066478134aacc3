package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes collects the handlers mounted by Register. OAuth, RateLimit and
// WebSocket are optional.
type Routes struct {
	Auth      *AuthHandler
	OAuth     *OAuthHandler
	Rooms     *RoomHandler
	Canvas    *CanvasHandler
	Health    *HealthHandler
	WebSocket http.Handler

	// Protect authenticates a request; RateLimit throttles the API.
	Protect   func(http.Handler) http.Handler
	RateLimit func(http.Handler) http.Handler
}

// Register mounts every route on r.
func Register(r *mux.Router, rt Routes) {
	r.HandleFunc("/health", rt.Health.Health).Methods(http.MethodGet)
	if rt.WebSocket != nil {
		r.Handle("/ws", rt.WebSocket)
	}

	api := r.PathPrefix("/api").Subrouter()
	if rt.RateLimit != nil {
		api.Use(rt.RateLimit)
	}
	api.HandleFunc("/health", rt.Health.Health).Methods(http.MethodGet)

	api.HandleFunc("/auth/register", rt.Auth.RegisterUser).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", rt.Auth.LoginUser).Methods(http.MethodPost)
	if rt.OAuth != nil {
		api.HandleFunc("/auth/google", rt.OAuth.GoogleLogin).Methods(http.MethodGet)
		api.HandleFunc("/auth/google/callback", rt.OAuth.GoogleCallback).Methods(http.MethodGet)
	}

	protected := api.NewRoute().Subrouter()
	protected.Use(rt.Protect)
	protected.HandleFunc("/auth/me", rt.Auth.Me).Methods(http.MethodGet)
	protected.HandleFunc("/users/lookup", rt.Auth.LookupUser).Methods(http.MethodGet)

	protected.HandleFunc("/rooms", rt.Rooms.CreateRoom).Methods(http.MethodPost)
	protected.HandleFunc("/rooms", rt.Rooms.ListRooms).Methods(http.MethodGet)
	protected.HandleFunc("/rooms/join", rt.Rooms.JoinRoom).Methods(http.MethodPost)
	protected.HandleFunc("/rooms/{id}", rt.Rooms.GetRoom).Methods(http.MethodGet)
	protected.HandleFunc("/rooms/{id}", rt.Rooms.UpdateRoom).Methods(http.MethodPut)
	protected.HandleFunc("/rooms/{id}", rt.Rooms.DeleteRoom).Methods(http.MethodDelete)
	protected.HandleFunc("/rooms/{id}/members", rt.Rooms.AddMember).Methods(http.MethodPost)
	protected.HandleFunc("/rooms/{id}/members/{userId}", rt.Rooms.UpdateMemberRole).Methods(http.MethodPut)
	protected.HandleFunc("/rooms/{id}/members/{userId}", rt.Rooms.RemoveMember).Methods(http.MethodDelete)

	protected.HandleFunc("/canvas/{roomId}/history", rt.Canvas.GetHistory).Methods(http.MethodGet)
	protected.HandleFunc("/canvas/{roomId}/state", rt.Canvas.GetState).Methods(http.MethodGet)
	protected.HandleFunc("/canvas/{roomId}/snapshots", rt.Canvas.CreateSnapshot).Methods(http.MethodPost)
	protected.HandleFunc("/canvas/{roomId}/snapshots/latest", rt.Canvas.GetLatestSnapshot).Methods(http.MethodGet)
	protected.HandleFunc("/canvas/{roomId}/snapshots/{snapshotId}", rt.Canvas.GetSnapshot).Methods(http.MethodGet)
}
