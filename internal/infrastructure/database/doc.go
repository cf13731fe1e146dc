// Package database provides SQLite connectivity for the overlay store.
//
// This package manages:
//   - Database connection with WAL mode so readers never see partial writes
//   - Foreign keys, so deleting a scene removes its layers
//   - Schema migrations from an fs.FS (embedded by package migrations)
//   - An exclusive writer lock shared by overlayd and overlayctl
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "overlay.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are named YYYYMMDD_HHMMSS_description.up.sql with a matching
// .down.sql, and each is applied in its own transaction.
package database
