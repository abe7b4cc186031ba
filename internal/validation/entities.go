package validation

import (
	"github.com/hyperengineering/labsync/internal/types"
)

// Maximum field lengths.
const (
	MaxNameLength  = 200
	MaxTextLength  = 2000
	MaxCodeLength  = 32
	MaxShortLength = 100
)

// ValidateStaff validates a staff member or phlebotomist.
// Returns all errors found (does not fail fast).
func ValidateStaff(s *types.Staff) []ValidationError {
	var c Collector

	c.Add(RequiredText("name", s.Name, MaxNameLength)...)
	if err := ValidateRequired("phone", s.Phone); err != nil {
		c.Add(err)
	} else {
		c.Add(ValidatePhone("phone", s.Phone))
	}
	c.Add(ValidateEmail("email", s.Email))
	c.Add(ValidateMaxLength("designation", s.Designation, MaxShortLength))
	c.Add(ValidateMin("salary", s.Salary, 0))
	c.Add(ValidateEnum("status", s.Status, []string{types.StatusActive, types.StatusInactive}))
	c.Add(ValidateEnum("role", string(s.Role), []string{string(types.RoleStaff), string(types.RolePhlebotomist)}))

	return c.Errors()
}

// ValidateLabTest validates a test catalog entry.
func ValidateLabTest(t *types.LabTest) []ValidationError {
	var c Collector

	c.Add(RequiredText("testCode", t.TestCode, MaxCodeLength)...)
	c.Add(RequiredText("testName", t.TestName, MaxNameLength)...)
	c.Add(ValidateMin("price", t.Price, 0))
	c.Add(ValidateMaxLength("description", t.Description, MaxTextLength))
	c.Add(ValidateMaxLength("preparationNotes", t.PreparationNotes, MaxTextLength))

	return c.Errors()
}

// ValidateCredential validates a generated login.
func ValidateCredential(cr *types.Credential) []ValidationError {
	var c Collector

	c.Add(
		ValidateRequired("username", cr.Username),
		ValidateRequired("passwordHash", cr.PasswordHash),
		ValidateRequired("personId", cr.PersonID),
	)
	c.Add(ValidateEnum("role", string(cr.Role), []string{string(types.RoleStaff), string(types.RolePhlebotomist)}))

	return c.Errors()
}
