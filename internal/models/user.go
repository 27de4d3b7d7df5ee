package models

import "time"

// User is one account keyed by email. Credits never go below zero and the
// video and bucket link lists only grow.
type User struct {
	ID          string     `json:"id"`
	Name        *string    `json:"name,omitempty"`
	Email       string     `json:"email"`
	Credits     int64      `json:"credits"`
	VideoIDs    []string   `json:"videoIds"`
	BucketLinks []string   `json:"bucketLinks"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt"`
}

func (u *User) GetName() string {
	if u.Name != nil {
		return *u.Name
	}
	return ""
}
