package model

import "strings"

// Role is the association role carried in the access token's "role"
// claim.  Roles are hierarchical: ADMIN includes MEMBER which includes
// COLLABORATOR.
//
// Roles:
//  ADMIN        – manages raffles and may run maintenance operations.
//  MEMBER       – association member; everything a collaborator can do.
//  COLLABORATOR – sells tickets on behalf of the association.
type Role string

const (
    RoleAdmin        Role = "ADMIN"
    RoleMember       Role = "MEMBER"
    RoleCollaborator Role = "COLLABORATOR"
)

// rank orders roles so that a higher rank includes every lower one.
var rank = map[Role]int{
    RoleCollaborator: 1,
    RoleMember:       2,
    RoleAdmin:        3,
}

// ParseRole normalises a claim value into a Role.  Unknown values yield
// false.
func ParseRole(s string) (Role, bool) {
    r := Role(strings.ToUpper(strings.TrimSpace(s)))
    _, ok := rank[r]
    return r, ok
}

// Includes reports whether r grants at least the privileges of min.
func (r Role) Includes(min Role) bool {
    have, ok := rank[r]
    if !ok {
        return false
    }
    return have >= rank[min]
}
