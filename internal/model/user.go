package model

import "time"

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	About        string    `json:"about"`
	AvatarURL    string    `json:"avatar_url"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserPublic is the user shape safe to embed in broadcasts and responses.
type UserPublic struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	About     string `json:"about,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:        u.ID,
		Name:      u.Name,
		About:     u.About,
		AvatarURL: u.AvatarURL,
	}
}

// ContactRequest is a pending follow request between two users.
type ContactRequest struct {
	FromID    string      `json:"from_id"`
	ToID      string      `json:"to_id"`
	CreatedAt time.Time   `json:"created_at"`
	From      *UserPublic `json:"from,omitempty"`
}
