// Package testing provides a standardised conformance suite and benchmarks for
// store implementations that satisfy the kv.IStore interface.
//
// Every backend (memkv, redisstore, the rpc client) runs the same suite, so the
// storage layer can rely on identical semantics regardless of the backend.
//
// Example usage:
//
//	kvtesting.RunStoreTests(t, "MyStore", func(t *testing.T) kvtesting.Fixture {
//		clock := newFakeClock()
//		return kvtesting.Fixture{Store: NewMyStore(clock), Advance: clock.Advance}
//	})
//
//	kvtesting.RunStoreBenchmarks(b, "MyStore", func() kv.IStore {
//		return NewMyStore(nil)
//	})
package testing
