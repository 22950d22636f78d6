// Package all registers every storage backend with the storage factory.
// Blank-import it from binaries that pick a backend by config.
package all

import (
	_ "jsonsql/internal/storage/mssql"
	_ "jsonsql/internal/storage/postgres"
	_ "jsonsql/internal/storage/sqlite"
)
