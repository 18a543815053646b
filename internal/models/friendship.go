package models

import "time"

const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
)

// Friendship is a row of the social database's friendships table. The hub only
// reads it.
type Friendship struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	RequesterID string    `gorm:"not null;index;type:varchar(64)" json:"requesterId"`
	AccepterID  string    `gorm:"not null;index;type:varchar(64)" json:"accepterId"`
	Status      string    `gorm:"not null;type:varchar(32)" json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Friendship) TableName() string {
	return "friendships"
}

// Other returns the side of the friendship that is not userID.
func (f Friendship) Other(userID string) string {
	if f.RequesterID == userID {
		return f.AccepterID
	}
	return f.RequesterID
}
