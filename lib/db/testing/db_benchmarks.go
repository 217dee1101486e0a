package testing

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/keybox/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	newDB := func(b *testing.B) db.KVDB {
		database := factory(b.TempDir())
		b.Cleanup(func() {
			database.Close()
		})
		return database
	}

	b.Run(name, func(b *testing.B) {
		b.Run("Add", func(b *testing.B) {
			benchmarkAdd(b, newDB(b))
		})

		b.Run("AddWithExpiry", func(b *testing.B) {
			benchmarkAddWithExpiry(b, newDB(b))
		})

		b.Run("Update", func(b *testing.B) {
			benchmarkUpdate(b, newDB(b))
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, newDB(b))
		})

		b.Run("Get(not)", func(b *testing.B) {
			benchmarkGetNot(b, newDB(b))
		})

		b.Run("Delete", func(b *testing.B) {
			benchmarkDelete(b, newDB(b))
		})

		b.Run("Transaction", func(b *testing.B) {
			benchmarkTransaction(b, newDB(b))
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, newDB(b))
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Add operation with distinct keys
func benchmarkAdd(b *testing.B, database db.KVDB) {
	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			_ = database.Add(fmt.Sprintf("test-key-%d", i), fmt.Sprintf("test-value-%d", i))
		}
	})
}

// Benchmark for AddE operation with distinct keys
func benchmarkAddWithExpiry(b *testing.B, database db.KVDB) {
	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			_ = database.AddE(fmt.Sprintf("test-key-%d", i), "value", time.Minute)
		}
	})
}

// Benchmark for Update operation on existing keys
func benchmarkUpdate(b *testing.B, database db.KVDB) {
	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		_ = database.Add(fmt.Sprintf("test-key-%d", i), "value")
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			_ = database.Update(fmt.Sprintf("test-key-%d", r.Intn(numKeys)), "updated")
		}
	})
}

// Benchmark for Get operation on existing keys
func benchmarkGet(b *testing.B, database db.KVDB) {
	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		_ = database.Add(fmt.Sprintf("test-key-%d", i), "value")
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			_, _ = database.Get(fmt.Sprintf("test-key-%d", r.Intn(numKeys)))
		}
	})
}

// Benchmark for Get operation on keys that do not exist
func benchmarkGetNot(b *testing.B, database db.KVDB) {
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			_, _ = database.Get(fmt.Sprintf("missing-key-%d", counter))
			counter++
		}
	})
}

// Benchmark for Delete operation
func benchmarkDelete(b *testing.B, database db.KVDB) {
	for i := 0; i < b.N; i++ {
		_ = database.Add(fmt.Sprintf("test-key-%d", i), "value")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = database.Delete(fmt.Sprintf("test-key-%d", i))
	}
}

// Benchmark for a transaction with ten staged writes
func benchmarkTransaction(b *testing.B, database db.KVDB) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = database.BeginTransaction()
		for j := 0; j < 10; j++ {
			_ = database.Add(fmt.Sprintf("tx-%d-%d", i, j), "value")
		}
		_ = database.CommitTransaction()
	}
}

// Benchmark for a realistic mix of operations (70% reads, 20% writes, 10% deletes)
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {
	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		_ = database.AddE(fmt.Sprintf("test-key-%d", i), "value", time.Minute)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", r.Intn(numKeys))
			switch op := r.Intn(10); {
			case op < 7:
				_, _ = database.Get(key)
			case op < 9:
				if err := database.Update(key, "updated"); err != nil {
					_ = database.AddE(key, "value", time.Minute)
				}
			default:
				_ = database.Delete(key)
			}
		}
	})
}
