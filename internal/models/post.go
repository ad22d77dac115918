package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxTitleLength is the maximum title length of a top-level post, in characters.
const MaxTitleLength = 150

// Post is a bulletin-board entry. A nil ParentID marks a top-level post;
// otherwise the post is a reply to ParentID and has an empty title.
type Post struct {
	ID        string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title     string      `gorm:"size:150;not null;default:''" json:"title"`
	Content   string      `gorm:"type:text;not null" json:"content"`
	AuthorID  string      `gorm:"type:varchar(36);not null;index" json:"author_id"`
	Author    UserProfile `gorm:"foreignKey:AuthorID" json:"author"`
	ParentID  *string     `gorm:"type:varchar(36);index" json:"parent_id,omitempty"`
	IsDeleted bool        `gorm:"not null;default:false;index" json:"-"`
	// ReplyCount is not persisted; computed at query time
	ReplyCount int64     `gorm:"->;-:migration" json:"reply_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BeforeCreate assigns an id when the caller did not.
func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// IsReply reports whether the post answers another post.
func (p *Post) IsReply() bool {
	return p.ParentID != nil
}

// PostView is a post as shown to a particular viewer.
type PostView struct {
	Post    *Post
	IsOwner bool
}

// PostThread is a top-level post with its visible replies, oldest first.
type PostThread struct {
	Post    *Post
	IsOwner bool
	Replies []PostView
}

// PostPage is one page of the top-level post listing.
type PostPage struct {
	Posts      []*Post    `json:"posts"`
	Pagination Pagination `json:"pagination"`
}
