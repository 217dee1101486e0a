// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - RunKVDBTests: A test suite for validating conformance to the KVDB interface
//     contract (error codes, lazy expiration, transaction isolation and conflicts,
//     rollback idempotence, concurrent access and shutdown)
//   - RunPersistenceTests: Tests that close a database and reopen it from its
//     snapshot (round trip, transaction durability, explicit Persist)
//   - RunKVDBBenchmarks: Performance tests for measuring throughput of common
//     database operations
//
// Every test receives a fresh database from the factory. The factory gets a
// temporary directory owned by the test, so persistent implementations can keep
// their snapshot there and be reopened with the same directory.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(dataDir string) db.KVDB {
//		return NewMyDatabase(filepath.Join(dataDir, "data"))
//	}
//
//	// Running the standard test suite
//	testing.RunKVDBTests(t, "MyDatabase", factory)
//	testing.RunPersistenceTests(t, "MyDatabase", factory)
//
//	// Running performance benchmarks
//	testing.RunKVDBBenchmarks(b, "MyDatabase", factory)
package testing
