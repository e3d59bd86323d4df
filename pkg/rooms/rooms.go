// Package rooms implements subscription descriptors ("rooms") and the
// delivery predicate derived from them.
//
// A descriptor has the form
//
//	<kind>[:<status>][:admin]          global scope
//	<kind>[:<status>];<namespace>      namespace scope
//	<kind>[:<status>];<namespace>/<name>  single resource scope
//
// The status segment only filters client side and is ignored for routing.
package rooms

import (
	"slices"
	"strings"
)

// Kind is the resource family whose rooms drive delivery scoping.
const Kind = "shoots"

// StatusUnhealthy is the status segment for the unhealthy filter.
const StatusUnhealthy = "unhealthy"

const adminSuffix = "admin"

// ParseRooms splits descriptors into the admin flag, the namespaces and the
// qualified "<namespace>/<name>" names they grant. Descriptors of another
// kind are ignored.
func ParseRooms(descriptors []string) (isAdmin bool, namespaces, qualifiedNames []string) {
	namespaces = []string{}
	qualifiedNames = []string{}
	for _, room := range descriptors {
		head, scope, hasScope := strings.Cut(room, ";")
		segments := strings.Split(head, ":")
		if segments[0] != Kind {
			continue
		}
		if !hasScope {
			if len(segments) > 1 && segments[len(segments)-1] == adminSuffix {
				isAdmin = true
			}
			continue
		}
		if strings.Contains(scope, "/") {
			qualifiedNames = append(qualifiedNames, scope)
		} else if scope != "" {
			namespaces = append(namespaces, scope)
		}
	}
	return isAdmin, namespaces, qualifiedNames
}

// Scope is the parsed delivery scope of one connection.
type Scope struct {
	Admin          bool
	Namespaces     []string
	QualifiedNames []string
}

// NewScope parses descriptors into a Scope.
func NewScope(descriptors []string) Scope {
	admin, namespaces, names := ParseRooms(descriptors)
	return Scope{Admin: admin, Namespaces: namespaces, QualifiedNames: names}
}

// Allows reports whether an event for the resource (namespace, name) is
// delivered: admin first, then namespace, then qualified name.
func (s Scope) Allows(namespace, name string) bool {
	if s.Admin {
		return true
	}
	if slices.Contains(s.Namespaces, namespace) {
		return true
	}
	return slices.Contains(s.QualifiedNames, namespace+"/"+name)
}

// Empty reports whether the scope grants nothing.
func (s Scope) Empty() bool {
	return !s.Admin && len(s.Namespaces) == 0 && len(s.QualifiedNames) == 0
}

func head(status string) string {
	if status == "" {
		return Kind
	}
	return Kind + ":" + status
}

// AdminRoom returns the global descriptor, optionally with a status filter.
func AdminRoom(status string) string {
	return head(status) + ":" + adminSuffix
}

// NamespaceRoom returns the descriptor of a namespace.
func NamespaceRoom(status, namespace string) string {
	return head(status) + ";" + namespace
}

// ResourceRoom returns the descriptor of a single resource.
func ResourceRoom(namespace, name string) string {
	return Kind + ";" + namespace + "/" + name
}

// IsRoom reports whether room belongs to the scoped kind.
func IsRoom(room string) bool {
	return strings.HasPrefix(room, Kind)
}
