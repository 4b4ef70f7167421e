// Package client implements a kv.IStore that forwards every batch to a remote rpc server.
//
// A batch is sent as one Exec message, so ModeBatch and ModeTx keep their semantics
// across the network: the server executes the batch on its backend with the same mode.
// Errors reported by the server keep their kv.RetCode (errors.Is(err, kv.ErrTxAborted)
// works as with a local store); transport and serialization failures are returned as
// plain errors and leave it unknown which commands were applied.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:  []string{"localhost:8080"},
//	    RetryCount: 3,
//	  },
//	}
//
//	store, err := client.NewRPCStore(1, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//	  return err
//	}
//	defer store.Close()
//
//	svc := storage.NewService(store)
//
// Thread Safety:
//
//	The store is safe for concurrent use if the transport is (all transports of this
//	module are).
package client
