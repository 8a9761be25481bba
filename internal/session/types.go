package session

import (
	"fmt"
	"time"
)

// Role is the personnel role carried by a signed-in record.
type Role string

const (
	RoleMember  Role = "MEMBER"
	RoleOfficer Role = "OFFICER"
	RoleAdmin   Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleOfficer, RoleAdmin:
		return true
	}
	return false
}

// Record identifies the individual signed in on this station. It is the
// personnel session only; the department (tenant) login lives elsewhere and
// is never touched by this package.
type Record struct {
	PersonnelID string    `json:"personnel_id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	Approved    bool      `json:"approved"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Validate reports whether r can be written to a store.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if r.PersonnelID == "" {
		return fmt.Errorf("%w: missing personnel id", ErrInvalidRecord)
	}
	if !r.Role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidRecord, r.Role)
	}
	return nil
}

// Change is delivered to watchers when another store instance writes or
// clears the slot. Record is nil for a clear.
type Change struct {
	Record *Record `json:"record,omitempty"`
	Origin string  `json:"origin"`
}

// Cleared reports whether the change removed the session.
func (c Change) Cleared() bool { return c.Record == nil }
