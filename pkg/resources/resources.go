// Package resources defines the entities mirrored between the livesync
// server and its clients, and the change events that describe them.
package resources

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind discriminates the resource an event or object refers to.
type Kind string

// Resource kinds.
const (
	KindIssue   Kind = "issue"
	KindComment Kind = "comment"
	KindStatus  Kind = "Status"
)

// Plural returns the wire name of the resource collection.
func (k Kind) Plural() string {
	return string(k) + "s"
}

// ParseKind accepts both singular and plural resource names.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(s) {
	case "issue", "issues":
		return KindIssue, true
	case "comment", "comments":
		return KindComment, true
	}
	return "", false
}

// EventType is the change that happened to an entity.
type EventType string

// Event types.
const (
	Added    EventType = "ADDED"
	Modified EventType = "MODIFIED"
	Deleted  EventType = "DELETED"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case Added, Modified, Deleted:
		return true
	}
	return false
}

// StateOpen is the only issue state kept in the name index.
const StateOpen = "open"

// Metadata is the identity and freshness information of an entity.
type Metadata struct {
	ID          int64     `json:"id"              yaml:"id"`
	Number      int       `json:"number"          yaml:"number"`
	CreatedAt   time.Time `json:"created_at"      yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"      yaml:"updated_at"`
	State       string    `json:"state,omitempty" yaml:"state,omitempty"`
	Name        string    `json:"name,omitempty"  yaml:"name,omitempty"`
	ProjectName string    `json:"projectName,omitempty" yaml:"projectName,omitempty"`
}

// User is the author of an issue or comment.
type User struct {
	Login     string `json:"login"                yaml:"login"`
	AvatarURL string `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
}

// Label is an issue label.
type Label struct {
	ID    int64  `json:"id"    yaml:"id"`
	Name  string `json:"name"  yaml:"name"`
	Color string `json:"color" yaml:"color"`
}

// IssueData is the payload of an issue.
type IssueData struct {
	User     User    `json:"user"               yaml:"user"`
	HTMLURL  string  `json:"html_url,omitempty" yaml:"html_url,omitempty"`
	Title    string  `json:"ticketTitle"        yaml:"ticketTitle"`
	Body     string  `json:"body,omitempty"     yaml:"body,omitempty"`
	Comments int     `json:"comments"           yaml:"comments"`
	Labels   []Label `json:"labels,omitempty"   yaml:"labels,omitempty"`
}

// CommentData is the payload of a comment.
type CommentData struct {
	User    User   `json:"user"               yaml:"user"`
	HTMLURL string `json:"html_url,omitempty" yaml:"html_url,omitempty"`
	Body    string `json:"body,omitempty"     yaml:"body,omitempty"`
}

// Issue is a ticket. Its identity is Metadata.Number.
type Issue struct {
	Kind     Kind      `json:"kind"     yaml:"kind"`
	Metadata Metadata  `json:"metadata" yaml:"metadata"`
	Data     IssueData `json:"data"     yaml:"data"`
}

// UID returns the wire identifier of the issue.
func (i *Issue) UID() string {
	return IssueUID(i.Metadata.Number)
}

// IsOpen reports whether the issue belongs in the name index.
func (i *Issue) IsOpen() bool {
	return i.Metadata.State == StateOpen
}

// Comment is a comment on an issue. Its identity is the pair
// (Metadata.Number, Metadata.ID) where Number is the parent issue.
type Comment struct {
	Kind     Kind        `json:"kind"     yaml:"kind"`
	Metadata Metadata    `json:"metadata" yaml:"metadata"`
	Data     CommentData `json:"data"     yaml:"data"`
}

// UID returns the wire identifier of the comment.
func (c *Comment) UID() string {
	return CommentUID(c.Metadata.Number, c.Metadata.ID)
}

// IssueUID formats the uid of issue number.
func IssueUID(number int) string {
	return strconv.Itoa(number)
}

// CommentUID formats the uid of comment id on issue number.
func CommentUID(number int, id int64) string {
	return fmt.Sprintf("%d/%d", number, id)
}

// ParseIssueUID is the inverse of IssueUID.
func ParseIssueUID(uid string) (int, error) {
	n, err := strconv.Atoi(uid)
	if err != nil {
		return 0, fmt.Errorf("invalid issue uid %q: %w", uid, err)
	}
	return n, nil
}

// ParseCommentUID is the inverse of CommentUID.
func ParseCommentUID(uid string) (int, int64, error) {
	num, id, ok := strings.Cut(uid, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid comment uid %q", uid)
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid comment uid %q: %w", uid, err)
	}
	i, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid comment uid %q: %w", uid, err)
	}
	return n, i, nil
}

// Object is any entity held in a cache.
type Object interface {
	UID() string
}

// ChangeEvent is emitted by a cache whenever an entity changes.
type ChangeEvent struct {
	Kind   Kind
	Type   EventType
	Object Object
}

// Notification returns the reduced wire form of the event.
func (e ChangeEvent) Notification() Notification {
	return Notification{Type: e.Type, UID: e.Object.UID()}
}

// Notification is what clients receive: the object itself is never sent.
type Notification struct {
	Type EventType `json:"type"`
	UID  string    `json:"uid"`
}

// StatusDetails identifies the entity a Status refers to.
type StatusDetails struct {
	UID string `json:"uid"`
}

// Status replaces an entity in a synchronize response when it cannot be
// returned, most commonly because it no longer exists.
type Status struct {
	Kind    Kind          `json:"kind"`
	Code    int           `json:"code"`
	Message string        `json:"message,omitempty"`
	Details StatusDetails `json:"details"`
}

// NotFoundStatus builds the Status for a missing uid.
func NotFoundStatus(kind Kind, uid string) Status {
	return Status{
		Kind:    KindStatus,
		Code:    404,
		Message: fmt.Sprintf("%s with uid %s not found", kind, uid),
		Details: StatusDetails{UID: uid},
	}
}
