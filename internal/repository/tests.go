package repository

import (
	"github.com/hyperengineering/labsync/internal/types"
)

// TestCatalog is the collection of diagnostic tests. Test codes are unique
// regardless of case.
type TestCatalog struct {
	*Collection[types.LabTest, *types.LabTest]
}

// NewTestCatalog registers the tests collection.
func NewTestCatalog(reg *Registry) *TestCatalog {
	return &TestCatalog{
		Collection: NewCollection[types.LabTest, *types.LabTest](reg, labTestSchema()),
	}
}
