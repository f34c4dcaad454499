package imports

import (
	"encoding/json"
	"fmt"
)

func (s *ImportsSuite) TestDiagEdgeFailure() {
	record := json.RawMessage(fmt.Sprintf(`{
		"nodes": [
			{"metatype_id": %q, "original_data_id": "p-1", "properties": {"name": "alpha"}},
			{"metatype_id": %q, "original_data_id": "p-2", "properties": {"name": "beta"}}
		],
		"edges": [
			{"relationship_pair_id": %q, "origin_original_id": "p-1", "destination_original_id": "p-2"}
		]
	}`, s.personID, s.personID, s.knowsID))

	imp, err := s.svc.CreateImport(s.Ctx, s.ContainerID, s.DataSourceID, "tester",
		[]json.RawMessage{record})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.ProcessQueued(s.Ctx))

	stored, err := s.svc.GetImport(s.Ctx, imp.ID)
	s.Require().NoError(err)
	fmt.Printf("DIAG import status=%q message=%q\n", stored.Status, stored.StatusMessage)

	records, _, err := s.svc.ListRecords(s.Ctx, imp.ID, 10, 0)
	s.Require().NoError(err)
	for _, rec := range records {
		fmt.Printf("DIAG record %s errors=%v\n", rec.ID, rec.Errors)
	}
}
