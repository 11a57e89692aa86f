// Package cli implements the graylogic-recorder command line.
//
// Commands:
//
//	serve                 run the recorder service
//	history state|states|period|last|significant|entities
//	runs                  list recorder runs
//	emit                  publish one state change on the bus
//	migrate status|up|down
//
// Every command accepts --config and --format (json|text). Errors carry
// an exit code through ExitError.
package cli
