package store

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type CommentStatus string

const (
	CommentActive   CommentStatus = "active"
	CommentResolved CommentStatus = "resolved"
)

type Reply struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	UserName  string     `json:"user_name"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type Comment struct {
	ID            string          `json:"id"`
	DocumentID    string          `json:"document_id"`
	UserID        string          `json:"user_id"`
	UserName      string          `json:"user_name"`
	UserEmail     string          `json:"user_email,omitempty"`
	Content       string          `json:"content"`
	SelectionText *string         `json:"selection_text"`
	Position      json.RawMessage `json:"position"`
	SectionID     *string         `json:"section_id"`
	Status        CommentStatus   `json:"status"`
	Replies       []Reply         `json:"replies"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     *time.Time      `json:"updated_at"`
}

// Author is who a comment or reply is attributed to.
type Author struct {
	ID    string
	Name  string
	Email string
}

type NewComment struct {
	DocumentID    string
	Author        Author
	Content       string
	SelectionText *string
	Position      json.RawMessage
	SectionID     *string
}
