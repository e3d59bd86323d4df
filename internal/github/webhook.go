package github

import (
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // sha1 is the legacy X-Hub-Signature algorithm
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentstation/livesync/pkg/errors"
	"github.com/agentstation/livesync/pkg/logging"
	"github.com/agentstation/livesync/pkg/resources"
	"github.com/agentstation/livesync/pkg/tickets"
)

// Webhook headers.
const (
	HeaderSignature    = "X-Hub-Signature"
	HeaderSignature256 = "X-Hub-Signature-256"
	HeaderEvent        = "X-GitHub-Event"
	HeaderDelivery     = "X-GitHub-Delivery"
)

// Webhook event names.
const (
	EventIssues       = "issues"
	EventIssueComment = "issue_comment"
)

const defaultSignatureAlgorithm = "sha1"

// ErrSignatureMismatch is returned when the payload signature is wrong.
var ErrSignatureMismatch = errors.NewStatusError(http.StatusForbidden, "Signatures didn't match!")

// Signature computes the X-Hub-Signature value of body for algorithm
// ("sha1" or "sha256").
func Signature(secret string, body []byte, algorithm string) (string, error) {
	var h func() hash.Hash
	switch algorithm {
	case "sha1":
		h = sha1.New
	case "sha256":
		h = sha256.New
	default:
		return "", errors.NewStatusError(http.StatusForbidden, "Unsupported signature algorithm "+algorithm)
	}
	mac := hmac.New(h, []byte(secret))
	mac.Write(body)
	return algorithm + "=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature checks signature, in the "<algorithm>=<hex>" form, against
// the HMAC of body.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return errors.NewStatusError(http.StatusInternalServerError, "webhook secret not configured")
	}
	if signature == "" {
		return errors.NewStatusError(http.StatusForbidden, "Header '"+HeaderSignature+"' not provided")
	}
	algorithm, _, found := strings.Cut(signature, "=")
	if !found {
		algorithm = defaultSignatureAlgorithm
	}
	expected, err := Signature(secret, body, algorithm)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}

// RequestSignature returns the signature header of r, preferring sha256.
func RequestSignature(h http.Header) string {
	if s := h.Get(HeaderSignature256); s != "" {
		return s
	}
	return h.Get(HeaderSignature)
}

// Payload is the part of an issues or issue_comment webhook body livesync
// reads.
type Payload struct {
	Action  string   `json:"action"`
	Issue   *Issue   `json:"issue"`
	Comment *Comment `json:"comment"`
}

// CommentLoader reloads the comments of an issue.
type CommentLoader interface {
	LoadIssueComments(ctx context.Context, number int) ([]resources.Comment, error)
}

// Receiver applies webhook events to the ticket cache.
type Receiver struct {
	cache  *tickets.Cache
	loader CommentLoader
	logger *zerolog.Logger
	// reload runs comment reloads triggered by reopened issues.
	reload func(func())
}

// NewReceiver creates a Receiver. loader is used to fetch the comments of
// reopened issues in the background.
func NewReceiver(cache *tickets.Cache, loader CommentLoader, logger *zerolog.Logger) *Receiver {
	return &Receiver{
		cache:  cache,
		loader: loader,
		logger: logging.OrNop(logger),
		reload: func(fn func()) { go fn() },
	}
}

// Handle applies one webhook delivery. Unknown events are logged and
// ignored.
func (r *Receiver) Handle(ctx context.Context, event string, body []byte) error {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return errors.NewValidationError("body", err.Error())
	}

	switch event {
	case EventIssues:
		if p.Issue == nil {
			return errors.NewValidationError("issue", "missing")
		}
		r.handleIssue(ctx, p.Action, FromIssue(*p.Issue))
	case EventIssueComment:
		if p.Issue == nil || p.Comment == nil {
			return errors.NewValidationError("comment", "missing issue or comment")
		}
		r.handleComment(p.Action, FromIssue(*p.Issue), *p.Comment)
	default:
		r.logger.Error().Str("event", event).Msg("Unhandled event")
	}
	return nil
}

func (r *Receiver) handleIssue(ctx context.Context, action string, issue resources.Issue) {
	if action == "closed" {
		r.cache.RemoveIssue(issue)
		return
	}
	r.cache.AddOrUpdateIssue(issue)

	if action != "reopened" || issue.Data.Comments == 0 {
		return
	}
	number := issue.Metadata.Number
	ctx = context.WithoutCancel(ctx)
	r.reload(func() {
		if _, err := r.loader.LoadIssueComments(ctx, number); err != nil {
			r.logger.Error().Err(err).Int("number", number).Msg("Failed to fetch comments for reopened issue")
		}
	})
}

func (r *Receiver) handleComment(action string, issue resources.Issue, in Comment) {
	number := issue.Metadata.Number
	if _, ok := r.cache.Issue(number); !ok {
		r.logger.Debug().Int("number", number).Msg("Skipping issue_comment event for unknown issue")
		return
	}
	comment := FromComment(number, issue.Metadata.Name, issue.Metadata.ProjectName, in)

	r.cache.AddOrUpdateIssue(issue)
	if action == "deleted" {
		r.cache.RemoveComment(number, comment)
		return
	}
	r.cache.AddOrUpdateComment(number, comment)
}
