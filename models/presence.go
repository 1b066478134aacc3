package models

// PresenceUser is one entry of a room's presence list.
type PresenceUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
