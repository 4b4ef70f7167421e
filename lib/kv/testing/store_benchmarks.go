package testing

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/tkv/lib/kv"
)

// BenchFactory creates a new store for every benchmark
type BenchFactory func() kv.IStore

// RunStoreBenchmarks runs all benchmarks for a kv.IStore implementation
func RunStoreBenchmarks(b *testing.B, name string, factory BenchFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Set", func(b *testing.B) {
			benchmarkSet(b, factory())
		})

		b.Run("HSet", func(b *testing.B) {
			benchmarkHSet(b, factory())
		})

		b.Run("HGet", func(b *testing.B) {
			benchmarkHGet(b, factory())
		})

		b.Run("RPush", func(b *testing.B) {
			benchmarkRPush(b, factory())
		})

		b.Run("Batch100", func(b *testing.B) {
			benchmarkBatch(b, factory(), kv.ModeBatch)
		})

		b.Run("Tx100", func(b *testing.B) {
			benchmarkBatch(b, factory(), kv.ModeTx)
		})
	})
}

func benchmarkSet(b *testing.B, s kv.IStore) {
	defer s.Close()
	value := []byte("benchmark-value")
	var counter atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := fmt.Sprintf("key-%d", counter.Add(1)%1000)
			if _, err := s.Exec(context.Background(), kv.ModeDirect, kv.NewSet(key, value, 0)); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func benchmarkHSet(b *testing.B, s kv.IStore) {
	defer s.Close()
	value := [][]byte{[]byte("benchmark-value")}
	var counter atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			field := fmt.Sprintf("f-%d", counter.Add(1)%1000)
			if _, err := s.Exec(context.Background(), kv.ModeDirect, kv.NewHSet("hash", []string{field}, value)); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func benchmarkHGet(b *testing.B, s kv.IStore) {
	defer s.Close()
	for i := 0; i < 1000; i++ {
		field := fmt.Sprintf("f-%d", i)
		if _, err := s.Exec(context.Background(), kv.ModeDirect, kv.NewHSet("hash", []string{field}, [][]byte{[]byte(field)})); err != nil {
			b.Fatal(err)
		}
	}
	var counter atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			field := fmt.Sprintf("f-%d", counter.Add(1)%1000)
			if _, err := s.Exec(context.Background(), kv.ModeDirect, kv.NewHGet("hash", field)); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func benchmarkRPush(b *testing.B, s kv.IStore) {
	defer s.Close()
	value := []byte("benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Exec(context.Background(), kv.ModeDirect, kv.NewRPush("list", value)); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkBatch(b *testing.B, s kv.IStore, mode kv.Mode) {
	defer s.Close()
	cmds := make([]kv.Command, 100)
	for i := range cmds {
		field := fmt.Sprintf("f-%d", i)
		cmds[i] = kv.NewHSet("batch", []string{field}, [][]byte{[]byte(field)})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Exec(context.Background(), mode, cmds...); err != nil {
			b.Fatal(err)
		}
	}
}
