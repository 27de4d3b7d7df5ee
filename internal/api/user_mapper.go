package api

import (
	"time"

	"imagetovideo/internal/links"
	"imagetovideo/internal/models"
)

// UserView is the session user as the browser sees it.
type UserView struct {
	Email       string        `json:"email"`
	Name        string        `json:"name,omitempty"`
	Credits     int64         `json:"credits"`
	VideoIDs    []string      `json:"videoIds"`
	BucketLinks []string      `json:"bucketLinks"`
	Hosted      []HostedVideo `json:"hosted"`
	CreatedAt   *time.Time    `json:"createdAt,omitempty"`
}

type HostedVideo struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// userViewFromModel maps a stored user. Links outside the hosting prefix
// stay in BucketLinks but are not listed as hosted videos.
func userViewFromModel(u *models.User, publicBaseURL, keyPrefix string) *UserView {
	view := &UserView{
		Email:       u.Email,
		Name:        u.GetName(),
		Credits:     u.Credits,
		VideoIDs:    nonNil(u.VideoIDs),
		BucketLinks: nonNil(u.BucketLinks),
		Hosted:      []HostedVideo{},
	}
	if !u.CreatedAt.IsZero() {
		createdAt := u.CreatedAt
		view.CreatedAt = &createdAt
	}

	for _, link := range view.BucketLinks {
		if key, ok := links.ParseHostedKey(publicBaseURL, keyPrefix, link); ok {
			view.Hosted = append(view.Hosted, HostedVideo{Key: key, URL: link})
		}
	}
	return view
}

// emptyUserView is shown for a valid session whose email has no record yet.
func emptyUserView(email string) *UserView {
	return &UserView{
		Email:       email,
		VideoIDs:    []string{},
		BucketLinks: []string{},
		Hosted:      []HostedVideo{},
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
