// Package all registers every built-in ledger backend. Import it for its
// side effects:
//
//	import _ "delimconv/internal/ledger/all"
//
// which makes the kinds "sqlite", "postgres" and "mssql" available to
// ledger.Open.
package all

import (
	_ "delimconv/internal/ledger/mssql"
	_ "delimconv/internal/ledger/postgres"
	_ "delimconv/internal/ledger/sqlite"
)
