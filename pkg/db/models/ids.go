package models

import "github.com/google/uuid"

// ensureID assigns a random id when the caller left it empty. Primary keys
// are generated in the application so inserts behave the same on Postgres
// and sqlite.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
