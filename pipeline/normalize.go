package pipeline

import "github.com/aluiziolira/go-books-etl/models"

// Normalize returns records with repeated titles removed. The first record
// with a given title is kept and the relative order of survivors is
// unchanged. Field values are passed through untouched.
func Normalize(records []models.Record) ([]models.Record, error) {
	if len(records) == 0 {
		return nil, &models.EmptyInputError{Stage: "normalize"}
	}

	seen := make(map[string]struct{}, len(records))
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Title]; ok {
			continue
		}
		seen[r.Title] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}
