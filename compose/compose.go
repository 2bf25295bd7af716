// Package compose implements the new-post form.
package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/robertmeta/tagfeed/apperror"
	"github.com/robertmeta/tagfeed/gateway"
	"github.com/robertmeta/tagfeed/model"
	"go.uber.org/zap"
)

// IncompleteMessage is shown when a required field is missing.
const IncompleteMessage = "Please fill in all fields including tags."

// Identity resolves the signed-in user at the point of use.
type Identity interface {
	Resolve(ctx context.Context) (string, bool)
}

// Form holds the raw field values of a post being written. Tags is the
// comma-separated input as typed.
type Form struct {
	Title     string
	Content   string
	Tags      string
	Submitted bool

	gw       gateway.Gateway
	identity Identity
	logger   *zap.Logger
}

// NewForm returns an empty form that submits through gw.
func NewForm(gw gateway.Gateway, identity Identity, logger *zap.Logger) *Form {
	return &Form{gw: gw, identity: identity, logger: logger}
}

// Submit validates the form and inserts the post. On success the fields are
// cleared and Submitted is set. On any failure the fields are kept.
func (f *Form) Submit(ctx context.Context) (*model.Post, error) {
	title := strings.TrimSpace(f.Title)
	content := strings.TrimSpace(f.Content)
	tags := model.ParseTagList(f.Tags)
	if title == "" || content == "" || len(tags) == 0 {
		return nil, apperror.ValidationFailed(missingField(title, content, tags), IncompleteMessage)
	}

	userID, ok := f.identity.Resolve(ctx)
	if !ok {
		return nil, apperror.SignedOut()
	}

	draft := model.NewDraft(userID, f.Title, f.Content, f.Tags)
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	post, err := f.gw.InsertPost(ctx, draft)
	if err != nil {
		f.logger.Warn("creating post failed", zap.String("title", draft.Title), zap.Error(err))
		return nil, fmt.Errorf("compose: creating post: %w", err)
	}

	f.logger.Info("post created", zap.String("id", post.ID), zap.Strings("tags", post.Tags))
	f.Title, f.Content, f.Tags = "", "", ""
	f.Submitted = true
	return post, nil
}

// Reset returns a submitted form to editing mode for another post.
func (f *Form) Reset() {
	f.Title, f.Content, f.Tags = "", "", ""
	f.Submitted = false
}

func missingField(title, content string, tags []string) string {
	switch {
	case title == "":
		return "title"
	case content == "":
		return "content"
	case len(tags) == 0:
		return "tags"
	}
	return ""
}
