package models

import (
	"fmt"
	"time"
)

// User is a remote individual account. Album owners, photo authors and
// likers are all users.
type User struct {
	ID        uint64    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Group is a remote collective account.
type Group struct {
	ID        uint64    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Privacy is the visibility level of an album.
type Privacy int

const (
	PrivacyEveryone Privacy = iota
	PrivacyFriendsOnly
	PrivacyFriendsOfFriends
	PrivacyOwnerOnly
)

// Valid reports whether p is one of the known levels.
func (p Privacy) Valid() bool {
	return p >= PrivacyEveryone && p <= PrivacyOwnerOnly
}

func (p Privacy) String() string {
	switch p {
	case PrivacyEveryone:
		return "everyone"
	case PrivacyFriendsOnly:
		return "friends_only"
	case PrivacyFriendsOfFriends:
		return "friends_of_friends"
	case PrivacyOwnerOnly:
		return "owner_only"
	}
	return fmt.Sprintf("privacy(%d)", int(p))
}

// Album is a named collection of photos.
type Album struct {
	RemoteID    string    `json:"remote_id" yaml:"remote_id"`
	Referrer    Referrer  `json:"referrer" yaml:"referrer"`
	LocalID     uint64    `json:"local_id" yaml:"local_id"`
	ThumbID     uint64    `json:"thumb_id" yaml:"thumb_id"`
	ThumbSrc    string    `json:"thumb_src,omitempty" yaml:"thumb_src,omitempty"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	Created     time.Time `json:"created" yaml:"created"`
	// Updated is zero when the remote never reported it.
	Updated time.Time `json:"updated" yaml:"updated"`
	Size    int       `json:"size" yaml:"size"`
	// Privacy is nil when the remote did not report it.
	Privacy *Privacy `json:"privacy,omitempty" yaml:"privacy,omitempty"`
}

// Slug is the album's address on the remote web site.
func (a *Album) Slug() string {
	return "album" + a.RemoteID
}

// Photo is a single image inside an album.
type Photo struct {
	RemoteID string   `json:"remote_id" yaml:"remote_id"`
	Referrer Referrer `json:"referrer" yaml:"referrer"`
	LocalID  uint64   `json:"local_id" yaml:"local_id"`
	AlbumID  string   `json:"album_id" yaml:"album_id"`
	// AuthorID is the uploading user, which may differ from the album owner.
	AuthorID *uint64 `json:"author_id,omitempty" yaml:"author_id,omitempty"`

	SrcSmall string `json:"src_small,omitempty" yaml:"src_small,omitempty"`
	Src      string `json:"src,omitempty" yaml:"src,omitempty"`
	SrcBig   string `json:"src_big,omitempty" yaml:"src_big,omitempty"`
	SrcXBig  string `json:"src_xbig,omitempty" yaml:"src_xbig,omitempty"`
	SrcXXBig string `json:"src_xxbig,omitempty" yaml:"src_xxbig,omitempty"`

	Width  int `json:"width,omitempty" yaml:"width,omitempty"`
	Height int `json:"height,omitempty" yaml:"height,omitempty"`

	Likes    int `json:"likes" yaml:"likes"`
	Comments int `json:"comments" yaml:"comments"`
	Tags     int `json:"tags" yaml:"tags"`

	Text    string    `json:"text" yaml:"text"`
	Created time.Time `json:"created" yaml:"created"`
}

// Slug is the photo's address on the remote web site.
func (p *Photo) Slug() string {
	return "photo" + p.RemoteID
}
