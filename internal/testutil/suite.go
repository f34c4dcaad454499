package testutil

import (
	"context"

	"github.com/stretchr/testify/suite"
	"github.com/uptrace/bun"
)

// BaseSuite provides common test infrastructure with automatic fixture setup.
// Embed this in your test suite to get:
//   - Automatic database setup/teardown per suite
//   - Per-test transaction isolation with rollback (fast cleanup)
//   - A container and data source fixture per test
//
// Usage:
//
//	type MySuite struct {
//	    testutil.BaseSuite
//	}
//
//	func (s *MySuite) TestSomething() {
//	    // s.DB(), s.ContainerID, s.DataSourceID are available
//	}
type BaseSuite struct {
	suite.Suite
	TestDB       *TestDB
	Ctx          context.Context
	ContainerID  string
	DataSourceID string

	// dbSuffix is used to create unique database names
	dbSuffix string
}

// SetDBSuffix sets the database name suffix. Call this in your suite's SetupSuite
// before calling BaseSuite.SetupSuite.
func (s *BaseSuite) SetDBSuffix(suffix string) {
	s.dbSuffix = suffix
}

// SetupSuite creates the test database.
// If you override this, call s.BaseSuite.SetupSuite() first.
func (s *BaseSuite) SetupSuite() {
	s.Ctx = context.Background()

	suffix := s.dbSuffix
	if suffix == "" {
		suffix = "test"
	}

	testDB, err := SetupTestDB(s.Ctx, suffix)
	s.Require().NoError(err, "Failed to setup test database")
	s.TestDB = testDB
}

// TearDownSuite closes the test database.
// If you override this, call s.BaseSuite.TearDownSuite() at the end.
func (s *BaseSuite) TearDownSuite() {
	if s.TestDB != nil {
		s.TestDB.Close()
	}
}

// SetupTest starts a transaction and sets up fixtures.
// All changes within a test are automatically rolled back in TearDownTest.
// If you override this, call s.BaseSuite.SetupTest() first.
func (s *BaseSuite) SetupTest() {
	err := s.TestDB.BeginTestTx(s.Ctx)
	s.Require().NoError(err, "Failed to begin test transaction")

	containerID, err := CreateTestContainer(s.Ctx, s.TestDB.GetDB(), "Test Container")
	s.Require().NoError(err)
	s.ContainerID = containerID

	dataSourceID, err := CreateTestDataSource(s.Ctx, s.TestDB.GetDB(), containerID, "Test Source")
	s.Require().NoError(err)
	s.DataSourceID = dataSourceID
}

// TearDownTest rolls back the transaction, discarding all test changes.
// This is much faster than TRUNCATE.
// Override this if you need test-specific cleanup.
func (s *BaseSuite) TearDownTest() {
	_ = s.TestDB.RollbackTestTx()
}

// DB returns the current database connection (transaction if active, otherwise base DB).
func (s *BaseSuite) DB() bun.IDB {
	return s.TestDB.GetDB()
}
