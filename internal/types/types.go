package types

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// SyncStatus marks whether a cached record carries unconfirmed local changes.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

// Table names shared by the local cache, the sync queue and the remote store.
const (
	TableStaff        = "staff"
	TablePhlebotomist = "phlebotomist"
	TableUsers        = "users"
	TableTests        = "tests"
)

// Tables lists every table known to the system.
var Tables = []string{TableStaff, TablePhlebotomist, TableUsers, TableTests}

// KnownTable reports whether name is one of Tables.
func KnownTable(name string) bool {
	for _, t := range Tables {
		if t == name {
			return true
		}
	}
	return false
}

// Role distinguishes the two kinds of staff member.
type Role string

const (
	RoleStaff        Role = "staff"
	RolePhlebotomist Role = "phlebotomist"
)

// Table returns the collection that holds members of this role.
func (r Role) Table() string {
	if r == RolePhlebotomist {
		return TablePhlebotomist
	}
	return TableStaff
}

// Staff status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// DefaultPhoto is used when a staff member has no photo.
const DefaultPhoto = "👤"

// Meta is the lifecycle metadata carried by every cached record.
type Meta struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	SyncStatus SyncStatus `json:"syncStatus"`
}

// Base gives generic code access to the embedded metadata.
func (m *Meta) Base() *Meta { return m }

// Staff is a lab staff member or phlebotomist.
type Staff struct {
	Meta
	Name        string  `json:"name"`
	Phone       string  `json:"phone"`
	Email       string  `json:"email,omitempty"`
	Designation string  `json:"designation,omitempty"`
	Salary      float64 `json:"salary,omitempty"`
	JoiningDate string  `json:"joiningDate,omitempty"`
	Photo       string  `json:"photo,omitempty"`
	Status      string  `json:"status"`
	Role        Role    `json:"role"`
}

// LabTest is an entry in the diagnostic test catalog.
type LabTest struct {
	Meta
	TestCode         string  `json:"testCode"`
	TestName         string  `json:"testName"`
	TestCategory     string  `json:"testCategory,omitempty"`
	Price            float64 `json:"price"`
	SampleType       string  `json:"sampleType,omitempty"`
	Department       string  `json:"department,omitempty"`
	NormalRange      string  `json:"normalRange,omitempty"`
	Description      string  `json:"description,omitempty"`
	PreparationNotes string  `json:"preparationNotes,omitempty"`
	ReportTime       string  `json:"reportTime,omitempty"`
	IsActive         bool    `json:"isActive"`
}

// Credential is a login generated for a staff member.
// PasswordHash is a bcrypt hash; the plaintext is only returned once at creation.
type Credential struct {
	Meta
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	Role         Role   `json:"role"`
	PersonID     string `json:"personId"`
	IsActive     bool   `json:"isActive"`
}

// NewID returns a client-generated identifier: prefix, underscore, lowercase ULID.
// The ULID's millisecond timestamp plus 80 random bits make collisions
// between offline clients negligible.
func NewID(prefix string) string {
	return prefix + "_" + strings.ToLower(ulid.Make().String())
}
