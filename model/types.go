// Package model defines the core data structures for tagfeed.
package model

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robertmeta/tagfeed/apperror"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names so messages match the backend columns.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Post is a short text post as stored by the backend.
// ID and CreatedAt are assigned by the backend on insert.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// Draft is the insert payload for a new post.
type Draft struct {
	AuthorID string   `json:"author_id" validate:"required"`
	Title    string   `json:"title" validate:"required"`
	Content  string   `json:"content" validate:"required"`
	Tags     []string `json:"tags" validate:"min=1,dive,required"`
}

// NewDraft builds a draft from raw form input: title and content are
// trimmed and tagsRaw is parsed with ParseTagList.
func NewDraft(authorID, title, content, tagsRaw string) Draft {
	return Draft{
		AuthorID: authorID,
		Title:    strings.TrimSpace(title),
		Content:  strings.TrimSpace(content),
		Tags:     ParseTagList(tagsRaw),
	}
}

// Validate checks that the draft has every required field.
func (d *Draft) Validate() error {
	err := validate.Struct(d)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		field := verrs[0].Field()
		return apperror.ValidationFailed(field, field+" is required")
	}
	return apperror.ValidationFailed("", err.Error())
}

// UserInfo is the signed-in user as returned by the identity provider's
// userinfo endpoint. It is what the session cache stores.
type UserInfo struct {
	Subject       string `json:"sub,omitempty"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

// UserID returns the stable identifier used as author and preference key.
func (u *UserInfo) UserID() string {
	return u.Email
}

// Profile mirrors a row of the user_profiles collection.
type Profile struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// Preferences mirrors a row of the user_preferences collection.
type Preferences struct {
	UserID string   `json:"user_id"`
	Tags   []string `json:"preferred_tags"`
}
