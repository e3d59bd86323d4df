package github

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"

	"github.com/agentstation/livesync/pkg/resources"
)

// titlePattern matches "[project/name] title".
var titlePattern = regexp.MustCompile(`^\[([a-z0-9-]+)/([a-z0-9-]+)\]\s*(.*)$`)

// ParseTitle splits an issue title into the project and resource name it is
// filed against and the remaining ticket title. ok is false when the title
// does not follow the "[project/name] title" convention.
func ParseTitle(title string) (projectName, name, ticketTitle string, ok bool) {
	m := titlePattern.FindStringSubmatch(title)
	if m == nil {
		return "", "", "", false
	}
	return m[1], m[2], m[3], true
}

// FromIssue converts a GitHub issue into a ticket.
func FromIssue(in Issue) resources.Issue {
	projectName, name, ticketTitle, _ := ParseTitle(in.Title)

	labels := make([]resources.Label, 0, len(in.Labels))
	for _, l := range in.Labels {
		labels = append(labels, resources.Label{ID: l.ID, Name: l.Name, Color: l.Color})
	}

	return resources.Issue{
		Kind: resources.KindIssue,
		Metadata: resources.Metadata{
			ID:          in.ID,
			Number:      in.Number,
			CreatedAt:   in.CreatedAt,
			UpdatedAt:   in.UpdatedAt,
			State:       in.State,
			Name:        name,
			ProjectName: projectName,
		},
		Data: resources.IssueData{
			User:     resources.User{Login: in.User.Login, AvatarURL: in.User.AvatarURL},
			HTMLURL:  in.HTMLURL,
			Title:    ticketTitle,
			Body:     in.Body,
			Comments: in.Comments,
			Labels:   labels,
		},
	}
}

// FromComment converts a GitHub comment on issue number into a ticket
// comment. name and projectName are copied from the parent issue.
func FromComment(number int, name, projectName string, in Comment) resources.Comment {
	return resources.Comment{
		Kind: resources.KindComment,
		Metadata: resources.Metadata{
			ID:          in.ID,
			Number:      number,
			CreatedAt:   in.CreatedAt,
			UpdatedAt:   in.UpdatedAt,
			Name:        name,
			ProjectName: projectName,
		},
		Data: resources.CommentData{
			User:    resources.User{Login: in.User.Login, AvatarURL: in.User.AvatarURL},
			HTMLURL: in.HTMLURL,
			Body:    in.Body,
		},
	}
}

func jsonBody(v any) io.Reader {
	data, _ := json.Marshal(v)
	return bytes.NewReader(data)
}
