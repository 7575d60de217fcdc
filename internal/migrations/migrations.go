package migrations

import _ "embed"

//go:embed 01_kv_entries.up.sql
var KVEntries string
