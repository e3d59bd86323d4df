package rooms

import (
	"context"
	"net/http"

	"github.com/agentstation/livesync/pkg/errors"
)

// AllNamespaces requests every namespace the user may see.
const AllNamespaces = "_all"

// UnhealthySelector narrows a global subscription to unhealthy resources.
const UnhealthySelector = "shoot.gardener.cloud/status!=healthy"

// Request is a client's subscription request.
type Request struct {
	Namespace     string `json:"namespace"`
	Name          string `json:"name,omitempty"`
	LabelSelector string `json:"labelSelector,omitempty"`
}

// Authorizer answers the access questions needed to resolve a Request.
type Authorizer interface {
	IsAdmin(ctx context.Context) (bool, error)
	CanList(ctx context.Context, namespace string) (bool, error)
	CanGet(ctx context.Context, namespace, name string) (bool, error)
	// Namespaces lists the namespaces the caller is a member of.
	Namespaces(ctx context.Context) ([]string, error)
}

// ErrInsufficientAuthorization is returned when a Request is refused.
var ErrInsufficientAuthorization = errors.NewStatusError(http.StatusForbidden, "Insufficient authorization for shoot subscription")

// Resolve translates req into the rooms to join.
func Resolve(ctx context.Context, authz Authorizer, req Request) ([]string, error) {
	switch {
	case req.Namespace != "" && req.Name != "":
		ok, err := authz.CanGet(ctx, req.Namespace, req.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			return []string{ResourceRoom(req.Namespace, req.Name)}, nil
		}
	case req.Namespace != AllNamespaces:
		if req.Namespace == "" {
			return nil, errors.NewValidationError("namespace", "must not be empty")
		}
		ok, err := authz.CanList(ctx, req.Namespace)
		if err != nil {
			return nil, err
		}
		if ok {
			return []string{NamespaceRoom("", req.Namespace)}, nil
		}
	default:
		status := ""
		if req.LabelSelector == UnhealthySelector {
			status = StatusUnhealthy
		}
		admin, err := authz.IsAdmin(ctx)
		if err != nil {
			return nil, err
		}
		if admin {
			return []string{AdminRoom(status)}, nil
		}
		namespaces, err := authz.Namespaces(ctx)
		if err != nil {
			return nil, err
		}
		rooms := make([]string, 0, len(namespaces))
		allowed := true
		for _, ns := range namespaces {
			ok, err := authz.CanList(ctx, ns)
			if err != nil {
				return nil, err
			}
			if !ok {
				allowed = false
				break
			}
			rooms = append(rooms, NamespaceRoom(status, ns))
		}
		if allowed {
			return rooms, nil
		}
	}
	return nil, ErrInsufficientAuthorization
}
