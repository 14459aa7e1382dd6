// Package database provides SQLite connectivity for the Arduino bridge.
//
// The bridge keeps a small local database of microcontroller devices it has
// seen, so they can be re-announced to the hub after a restart. This package
// owns the connection (WAL mode, busy timeout, single writer) and applies the
// versioned migrations registered by the migrations package.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
package database
