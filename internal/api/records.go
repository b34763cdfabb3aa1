package api

import "net/http"

// HandleListRecords pages through active stored records so operators can see
// what the pipeline admitted without reaching for psql.
func (s *Server) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	records, err := s.Records.FindActive(r.Context(), limit, offset)
	if err != nil {
		internalError(w, r, "failed to list records", err)
		return
	}

	total, err := s.Records.CountActive(r.Context())
	if err != nil {
		internalError(w, r, "failed to count records", err)
		return
	}

	respond(w, http.StatusOK, envelope{
		"records": records,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}
