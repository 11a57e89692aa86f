// Package database provides SQLite connectivity for the Gray Logic recorder.
//
// This package manages:
//   - Database connection with WAL mode so history reads run beside the writer
//   - Schema migrations embedded in the binary
//   - Connection pool sizing and lifecycle management
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
