package postgres

import (
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/scholargrid/harvester/internal/domain"
)

// textOrNull maps a Go string to a nullable text parameter. The empty
// string becomes SQL NULL so optional columns stay NULL instead of "".
func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// audiencesToStrings flattens the typed audience list for a text[] parameter.
func audiencesToStrings(in []domain.Audience) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = string(a)
	}
	return out
}

// audiencesFromStrings restores typed audiences from a scanned text[] column.
func audiencesFromStrings(in []string) []domain.Audience {
	out := make([]domain.Audience, len(in))
	for i, s := range in {
		out[i] = domain.Audience(s)
	}
	return out
}
