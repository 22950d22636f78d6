package postgres

import "jsonsql/internal/storage"

func init() {
	// registers the postgres output factory
	storage.Register("postgres", New)
}
