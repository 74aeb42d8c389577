package identity

import "sort"

// CapSet is a set of capability tokens resolved for a viewer over an entity.
type CapSet map[string]struct{}

// NewCapSet builds a set from the given tokens.
func NewCapSet(caps ...string) CapSet {
	s := make(CapSet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

func (s CapSet) Has(cap string) bool { _, ok := s[cap]; return ok }

func (s CapSet) Add(caps ...string) CapSet {
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

func (s CapSet) Remove(caps ...string) CapSet {
	for _, c := range caps {
		delete(s, c)
	}
	return s
}

// List returns the capabilities in sorted order.
func (s CapSet) List() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// BaseCaps is the shared base resolver: every entity starts from "view" and
// each entity's Capabilities method adds or removes tokens per its own rules.
func BaseCaps() CapSet { return NewCapSet("view") }

// Viewer is a principal with its ownership and membership context
// precomputed, so capability resolution stays a pure function. A zero Viewer
// represents an anonymous caller.
type Viewer struct {
	User        *User
	OwnedOrgIDs map[string]struct{} // orgs whose owners team includes the user
	TeamIDs     map[string]struct{}
}

// Present reports whether the viewer is an authenticated user.
func (v Viewer) Present() bool { return v.User != nil }

// OwnsOrg reports whether the viewer owns the given organization.
func (v Viewer) OwnsOrg(orgID string) bool {
	if v.User == nil {
		return false
	}
	_, ok := v.OwnedOrgIDs[orgID]
	return ok
}

// InTeam reports team membership.
func (v Viewer) InTeam(teamID string) bool {
	if v.User == nil {
		return false
	}
	_, ok := v.TeamIDs[teamID]
	return ok
}

// IsUser reports whether the viewer is the given user.
func (v Viewer) IsUser(userID string) bool {
	return v.User != nil && v.User.ID == userID
}

// Capabilities resolves what the viewer may do with the organization.
// Non-owners lose view/edit/delete: organizations are not publicly visible,
// unlike most entities.
func (o *Organization) Capabilities(v Viewer) CapSet {
	caps := BaseCaps()
	if v.OwnsOrg(o.ID) {
		caps.Add("view", "edit", "delete", "view-teams", "new-team")
	} else {
		caps.Remove("view", "edit", "delete")
	}
	return caps
}

// Capabilities resolves what the viewer may do with the team. Owners of the
// parent organization may edit and delete.
func (t *Team) Capabilities(v Viewer) CapSet {
	caps := BaseCaps()
	if v.OwnsOrg(t.OrgID) {
		caps.Add("edit", "delete")
	}
	return caps
}

// Capabilities for an email claim: only the claiming user may verify it.
func (c *UserEmailClaim) Capabilities(v Viewer) CapSet {
	caps := BaseCaps()
	if v.IsUser(c.UserID) {
		caps.Add("verify")
	}
	return caps
}
