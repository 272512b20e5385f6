//go:build integration

package record_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"ekyc/internal/verification/store/record"
	"ekyc/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	storeContractSuite
	postgres *containers.PostgresContainer
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = record.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "verification_records")
	s.Require().NoError(err)
}

// TestUniqueIndexBacksDocumentNumber writes around the store to prove the
// constraint lives in the schema, not only in Go.
func (s *PostgresStoreSuite) TestUniqueIndexBacksDocumentNumber() {
	ctx := context.Background()
	a := s.create("subject-sql-a")
	b := s.create("subject-sql-b")

	_, err := s.postgres.DB.ExecContext(ctx,
		`UPDATE verification_records SET document_number = 'SQL-1' WHERE id = $1`, a.ID.String())
	s.Require().NoError(err)
	_, err = s.postgres.DB.ExecContext(ctx,
		`UPDATE verification_records SET document_number = 'SQL-1' WHERE id = $1`, b.ID.String())
	s.Require().Error(err)
}
