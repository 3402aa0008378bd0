package migrations

import "embed"

// FS contains the embedded migrations, one directory per dialect.
//
//go:embed sqlite/*.sql mysql/*.sql
var FS embed.FS
