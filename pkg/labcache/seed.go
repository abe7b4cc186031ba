package labcache

import (
	"context"

	"github.com/hyperengineering/labsync/internal/repository"
	"github.com/hyperengineering/labsync/internal/types"
)

// SeedResult reports what SeedSampleData created.
type SeedResult struct {
	Staff  []types.Staff      `json:"staff,omitempty"`
	Logins []repository.Login `json:"logins,omitempty"`
	Tests  []types.LabTest    `json:"tests,omitempty"`
}

var sampleStaff = []types.Staff{
	{
		Name:        "Rajesh Kumar",
		Role:        types.RoleStaff,
		Phone:       "9876543210",
		Email:       "rajesh@ashwani.com",
		Designation: "Lab Technician",
		Salary:      25000,
		JoiningDate: "2024-01-15",
		Photo:       "👨‍🔬",
		Status:      types.StatusActive,
	},
	{
		Name:        "Priya Sharma",
		Role:        types.RolePhlebotomist,
		Phone:       "9876543211",
		Email:       "priya@ashwani.com",
		Designation: "Phlebotomist",
		Salary:      20000,
		JoiningDate: "2024-03-20",
		Photo:       "👩‍⚕️",
		Status:      types.StatusActive,
	},
}

var sampleTests = []types.LabTest{
	{
		TestCode:         "CBC",
		TestName:         "Complete Blood Count",
		TestCategory:     "Hematology",
		Price:            300,
		SampleType:       "Blood",
		Department:       "Pathology",
		NormalRange:      "WBC: 4,000-10,000/μL",
		Description:      "Complete blood count with differential",
		PreparationNotes: "No fasting required",
		ReportTime:       "2-4 hours",
		IsActive:         true,
	},
}

// SeedSampleData fills an empty cache with two staff members and one test.
// Staff and tests are seeded independently; a collection that already has
// records is left alone.
func (c *Client) SeedSampleData(ctx context.Context) (SeedResult, error) {
	var res SeedResult
	if err := c.checkOpen(); err != nil {
		return res, err
	}

	staff, err := c.staff.ListAll(ctx)
	if err != nil {
		return res, err
	}
	if len(staff) == 0 {
		for _, s := range sampleStaff {
			created, login, err := c.staff.Create(s)
			if err != nil {
				return res, err
			}
			res.Staff = append(res.Staff, created)
			res.Logins = append(res.Logins, login)
		}
	}

	tests, err := c.tests.List(ctx)
	if err != nil {
		return res, err
	}
	if len(tests) == 0 {
		for _, t := range sampleTests {
			created, err := c.tests.Create(t)
			if err != nil {
				return res, err
			}
			res.Tests = append(res.Tests, created)
		}
	}
	return res, nil
}
