// Package database provides the SQLite connection for the reading history.
//
// This package manages:
//   - Database connection with optional WAL mode for concurrent access
//   - Schema migrations read from an fs.FS (normally the embedded
//     migrations package)
//   - Connection pool settings suited to SQLite's single writer
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive-only. Each version has a .up.sql file and
// optionally a .down.sql file named YYYYMMDD_HHMMSS_description.
package database
