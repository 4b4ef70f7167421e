package tcp

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/transport"
)

// echo answers with "<shard>:<request>"
func echo(shardId uint64, req []byte) []byte {
	return append([]byte(fmt.Sprintf("%d:", shardId)), req...)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().String()
}

// startServer starts a server transport and returns a connected client
func startServer(t *testing.T, handler transport.ServerHandleFunc) (transport.IRPCServerTransport, transport.IRPCClientTransport) {
	t.Helper()
	addr := freeAddr(t)

	server := NewTCPServerTransport()
	server.RegisterHandler(handler)
	done := make(chan error, 1)
	go func() {
		done <- server.Listen(common.ServerConfig{
			TimeoutSecond: 5,
			Transport:     common.ServerTransportConfig{Endpoint: addr, TCPNoDelay: true, TCPLingerSec: -1},
		})
	}()

	client := NewTCPClientTransport()
	config := common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{addr},
			ConnectionsPerEndpoint: 2,
			RetryCount:             3,
			TCPNoDelay:             true,
		},
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		err := client.Connect(config)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("failed to connect: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Cleanup(func() {
		client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
		if err := <-done; err != nil {
			t.Errorf("Listen returned %v", err)
		}
	})
	return server, client
}

func TestRoundTrip(t *testing.T) {
	_, client := startServer(t, echo)

	tests := []struct {
		name    string
		shardId uint64
		req     []byte
	}{
		{"small", 1, []byte("hello")},
		{"empty", 2, []byte{}},
		{"large", 3, bytes.Repeat([]byte("x"), 256*1024)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Send(context.Background(), tt.shardId, tt.req)
			if err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			if want := echo(tt.shardId, tt.req); !bytes.Equal(resp, want) {
				t.Errorf("got %d bytes, want %d bytes", len(resp), len(want))
			}
		})
	}
}

func TestConcurrentRequests(t *testing.T) {
	_, client := startServer(t, func(shardId uint64, req []byte) []byte {
		// responses are written out of order
		if len(req)%2 == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		return echo(shardId, req)
	})

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := []byte(fmt.Sprintf("request-%d", i))
			resp, err := client.Send(context.Background(), uint64(i), req)
			if err != nil {
				errs <- err
				return
			}
			if want := echo(uint64(i), req); !bytes.Equal(resp, want) {
				errs <- fmt.Errorf("request %d: got %q, want %q", i, resp, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestContextCanceled(t *testing.T) {
	release := make(chan struct{})
	_, client := startServer(t, func(shardId uint64, req []byte) []byte {
		<-release
		return req
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Send(ctx, 1, []byte("slow")); err == nil {
		t.Fatal("expected an error for an expired context")
	}
}

func TestConnectFails(t *testing.T) {
	client := NewTCPClientTransport()
	err := client.Connect(common.ClientConfig{Transport: common.ClientTransportConfig{Endpoints: []string{freeAddr(t)}}})
	if err == nil {
		client.Close()
		t.Fatal("expected connect to fail without a server")
	}
	if err := client.Connect(common.ClientConfig{}); err == nil {
		t.Fatal("expected connect to fail without endpoints")
	}
}
