package repository

import (
	"strings"
	"time"

	"github.com/hyperengineering/labsync/internal/remote"
	"github.com/hyperengineering/labsync/internal/types"
	"github.com/hyperengineering/labsync/internal/validation"
)

// ID prefixes per entity.
const (
	PrefixStaff        = "stf"
	PrefixPhlebotomist = "phl"
	PrefixCredential   = "usr"
	PrefixTest         = "tst"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func staffSchema(role types.Role) Schema[types.Staff] {
	prefix := PrefixStaff
	if role == types.RolePhlebotomist {
		prefix = PrefixPhlebotomist
	}
	return Schema[types.Staff]{
		Table:  role.Table(),
		Prefix: prefix,
		Keys: []NaturalKey[types.Staff]{
			{Field: "phone", Value: func(s *types.Staff) string { return s.Phone }},
			{Field: "email", Value: func(s *types.Staff) string { return s.Email }, FoldCase: true},
		},
		Immutable: []string{"role"},
		Normalize: func(s *types.Staff) {
			s.Name = strings.TrimSpace(s.Name)
			s.Phone = strings.TrimSpace(s.Phone)
			s.Email = strings.TrimSpace(s.Email)
			if s.Status == "" {
				s.Status = types.StatusActive
			}
			if s.Photo == "" {
				s.Photo = types.DefaultPhoto
			}
			s.Role = role
		},
		Validate: func(s *types.Staff) []validation.ValidationError {
			return validation.ValidateStaff(s)
		},
		ToRow: func(s *types.Staff) remote.Row {
			return remote.Row{
				"id":           s.ID,
				"name":         s.Name,
				"phone":        s.Phone,
				"email":        nullable(s.Email),
				"designation":  nullable(s.Designation),
				"salary":       s.Salary,
				"joining_date": nullable(s.JoiningDate),
				"photo":        nullable(s.Photo),
				"status":       s.Status,
				"created_at":   formatTime(s.CreatedAt),
				"updated_at":   formatTime(s.UpdatedAt),
			}
		},
		FromRow: func(r remote.Row) types.Staff {
			s := types.Staff{
				Meta: types.Meta{
					ID:         r.String("id"),
					CreatedAt:  r.Time("created_at"),
					UpdatedAt:  r.Time("updated_at"),
					SyncStatus: types.SyncSynced,
				},
				Name:        r.String("name"),
				Phone:       r.String("phone"),
				Email:       r.String("email"),
				Designation: r.String("designation"),
				Salary:      r.Float("salary"),
				JoiningDate: r.String("joining_date"),
				Photo:       r.String("photo"),
				Status:      r.String("status"),
				Role:        role,
			}
			if s.Photo == "" {
				s.Photo = types.DefaultPhoto
			}
			if s.Status == "" {
				s.Status = types.StatusActive
			}
			return s
		},
	}
}

func credentialSchema() Schema[types.Credential] {
	return Schema[types.Credential]{
		Table:  types.TableUsers,
		Prefix: PrefixCredential,
		Keys: []NaturalKey[types.Credential]{
			{Field: "username", Value: func(c *types.Credential) string { return c.Username }, FoldCase: true},
		},
		Immutable: []string{"personId", "role"},
		Validate: func(c *types.Credential) []validation.ValidationError {
			return validation.ValidateCredential(c)
		},
		ToRow: func(c *types.Credential) remote.Row {
			return remote.Row{
				"id":            c.ID,
				"username":      c.Username,
				"password_hash": c.PasswordHash,
				"role":          string(c.Role),
				"person_id":     c.PersonID,
				"is_active":     c.IsActive,
				"created_at":    formatTime(c.CreatedAt),
				"updated_at":    formatTime(c.UpdatedAt),
			}
		},
		FromRow: func(r remote.Row) types.Credential {
			return types.Credential{
				Meta: types.Meta{
					ID:         r.String("id"),
					CreatedAt:  r.Time("created_at"),
					UpdatedAt:  r.Time("updated_at"),
					SyncStatus: types.SyncSynced,
				},
				Username:     r.String("username"),
				PasswordHash: r.String("password_hash"),
				Role:         types.Role(r.String("role")),
				PersonID:     r.String("person_id"),
				IsActive:     r.Bool("is_active", true),
			}
		},
	}
}

func labTestSchema() Schema[types.LabTest] {
	return Schema[types.LabTest]{
		Table:  types.TableTests,
		Prefix: PrefixTest,
		Keys: []NaturalKey[types.LabTest]{
			{Field: "testCode", Value: func(t *types.LabTest) string { return t.TestCode }, FoldCase: true},
		},
		Normalize: func(t *types.LabTest) {
			t.TestCode = strings.TrimSpace(t.TestCode)
			t.TestName = strings.TrimSpace(t.TestName)
		},
		Validate: func(t *types.LabTest) []validation.ValidationError {
			return validation.ValidateLabTest(t)
		},
		ToRow: func(t *types.LabTest) remote.Row {
			return remote.Row{
				"id":                t.ID,
				"test_code":         t.TestCode,
				"test_name":         t.TestName,
				"test_category":     nullable(t.TestCategory),
				"price":             t.Price,
				"sample_type":       nullable(t.SampleType),
				"department":        nullable(t.Department),
				"normal_range":      nullable(t.NormalRange),
				"description":       nullable(t.Description),
				"preparation_notes": nullable(t.PreparationNotes),
				"report_time":       nullable(t.ReportTime),
				"is_active":         t.IsActive,
				"created_at":        formatTime(t.CreatedAt),
				"updated_at":        formatTime(t.UpdatedAt),
			}
		},
		FromRow: func(r remote.Row) types.LabTest {
			return types.LabTest{
				Meta: types.Meta{
					ID:         r.String("id"),
					CreatedAt:  r.Time("created_at"),
					UpdatedAt:  r.Time("updated_at"),
					SyncStatus: types.SyncSynced,
				},
				TestCode:         r.String("test_code"),
				TestName:         r.String("test_name"),
				TestCategory:     r.String("test_category"),
				Price:            r.Float("price"),
				SampleType:       r.String("sample_type"),
				Department:       r.String("department"),
				NormalRange:      r.String("normal_range"),
				Description:      r.String("description"),
				PreparationNotes: r.String("preparation_notes"),
				ReportTime:       r.String("report_time"),
				IsActive:         r.Bool("is_active", true),
			}
		},
	}
}
