package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ValentinKolb/tkv/rpc/common"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := NewHttpServerTransport().(*httpServerTransport)
	server.RegisterHandler(func(shardId uint64, req []byte) []byte {
		return append([]byte{byte(shardId)}, req...)
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func connect(t *testing.T, endpoints ...string) *httpClientTransport {
	t.Helper()
	client := NewHttpClientTransport()
	err := client.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: endpoints, RetryCount: 2},
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client.(*httpClientTransport)
}

func TestRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	client := connect(t, ts.URL)

	resp, err := client.Send(context.Background(), 3, []byte("abc"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if string(resp) != "\x03abc" {
		t.Errorf("got %q", resp)
	}
}

func TestEndpointWithoutScheme(t *testing.T) {
	ts := newTestServer(t)
	client := connect(t, strings.TrimPrefix(ts.URL, "http://"))

	if _, err := client.Send(context.Background(), 1, []byte("x")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

func TestRetryOnUnreachableEndpoint(t *testing.T) {
	ts := newTestServer(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := "http://" + l.Addr().String()
	l.Close()

	client := connect(t, dead, ts.URL)
	for i := 0; i < 4; i++ {
		if _, err := client.Send(context.Background(), 1, []byte("x")); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
}

func TestBadRequest(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/not-a-shard", "application/octet-stream", strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	client := connect(t, ts.URL)
	if _, err := client.Send(context.Background(), 9, []byte("x")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `tkv_rpc_requests_total{transport="http",shard="9"}`) {
		t.Errorf("metrics do not contain the request counter:\n%s", body)
	}
}
