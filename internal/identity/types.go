package identity

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
)

// Status is a user account lifecycle state.
type Status int

const (
	StatusActive    Status = 0
	StatusSuspended Status = 1
	// StatusMerged marks a historical tombstone left behind after an
	// account-merge migration.
	StatusMerged Status = 2
)

// User is a human account. PublicID is the stable random identifier shared
// with client applications; ID is the internal storage key.
type User struct {
	ID           string    `json:"id"`
	PublicID     string    `json:"userid"`
	Fullname     string    `json:"fullname"`
	Username     string    `json:"username,omitempty"` // optional, unique when set
	PasswordHash string    `json:"-"`                  // empty disables password auth
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool { return u != nil && u.Status == StatusActive }

// ProfileID returns the username when set, else the public id.
func (u *User) ProfileID() string {
	if u.Username != "" {
		return u.Username
	}
	return u.PublicID
}

// DisplayName returns the best human-readable name for the user.
func (u *User) DisplayName() string {
	if u.Fullname != "" {
		return u.Fullname
	}
	return u.ProfileID()
}

// PickerName is the name-with-handle form used in owner listings.
func (u *User) PickerName() string {
	if u.Username != "" {
		return u.Fullname + " (~" + u.Username + ")"
	}
	return u.Fullname
}

// Organization owns clients and permissions. Every organization has exactly
// one owners team, created with it and never null afterwards.
type Organization struct {
	ID           string    `json:"id"`
	PublicID     string    `json:"userid"`
	Name         string    `json:"name,omitempty"` // optional, unique when set
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	OwnersTeamID string    `json:"owners_team_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PickerName is the title-with-handle form used in owner listings.
func (o *Organization) PickerName() string {
	if o.Name != "" {
		return o.Title + " (~" + o.Name + ")"
	}
	return o.Title
}

// Team belongs to exactly one organization and holds a set of member users.
// Membership is not ownership: deleting or merging a user never deletes the
// team.
type Team struct {
	ID        string    `json:"id"`
	PublicID  string    `json:"userid"`
	Title     string    `json:"title"`
	OrgID     string    `json:"org_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailAddress is an immutable email value. It is constructed once and
// exposes no setter; the md5 digest is computed at construction for
// avatar-style lookups.
type EmailAddress struct {
	addr   string
	md5sum string
}

// NewEmailAddress constructs the immutable address value.
func NewEmailAddress(addr string) EmailAddress {
	addr = strings.TrimSpace(addr)
	sum := md5.Sum([]byte(strings.ToLower(addr)))
	return EmailAddress{addr: addr, md5sum: hex.EncodeToString(sum[:])}
}

func (e EmailAddress) String() string { return e.addr }

// MD5Sum returns the digest of the lower-cased address.
func (e EmailAddress) MD5Sum() string { return e.md5sum }

// IsZero reports whether the value was never constructed.
func (e EmailAddress) IsZero() bool { return e.addr == "" }

// UserEmail is a verified email address belonging to a user.
type UserEmail struct {
	ID        string
	UserID    string
	Email     EmailAddress
	Primary   bool
	CreatedAt time.Time
}

// UserEmailClaim is an unverified email address claim carrying a
// verification secret.
type UserEmailClaim struct {
	ID               string
	UserID           string
	Email            EmailAddress
	VerificationCode string
	CreatedAt        time.Time
}

// UserExternalID links a user to an identity at an external service.
// (service, external id) pairs are unique.
type UserExternalID struct {
	ID               string
	UserID           string
	Service          string
	ExternalUserID   string
	ExternalUsername string // not guaranteed unique within a service
	OAuthToken       string
	OAuthTokenSecret string
	OAuthTokenType   string
	CreatedAt        time.Time
}

// UserOldID records a merged-away public id so stale references resolve to
// the surviving account.
type UserOldID struct {
	PublicID  string
	UserID    string
	CreatedAt time.Time
}
