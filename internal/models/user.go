package models

// User is the minimal account record this service reads and the
// payment collaborator updates.
type User struct {
	BaseModel

	Name         string `json:"name" db:"name"`
	Email        string `json:"email" db:"email"`
	AvatarURL    string `json:"avatarUrl,omitempty" db:"avatar_url"`
	IsSubscribed bool   `json:"isSubscribed" db:"is_subscribed"`
}

// Summary returns the display projection of the user.
func (u *User) Summary() *UserSummary {
	return &UserSummary{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
}
