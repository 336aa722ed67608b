//go:build !functional

package cerise

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"golang.org/x/sync/errgroup"
)

func newTestClient(t *testing.T, server *MockServer) Client {
	t.Helper()
	client, err := NewClient([]string{server.Addr()}, NewTestConfig())
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestClientTypedCommands(t *testing.T) {
	defer leaktest.Check(t)()
	Logger = &testLogger{t}

	server := NewMockServer(t)
	client := newTestClient(t, server)

	server.Returns("+PONG\r\n")
	if err := client.Ping(); err != nil {
		t.Error("Ping:", err)
	}

	server.Returns("$5\r\nhello\r\n")
	echoed, err := client.Echo("hello")
	if err != nil || echoed != "hello" {
		t.Errorf("Echo = %q, %v", echoed, err)
	}

	server.Returns("+OK\r\n")
	if err := client.Set("greeting", "hello"); err != nil {
		t.Error("Set:", err)
	}

	server.Returns("+OK\r\n")
	if err := client.SetTTL("greeting", "hello", 90*time.Second); err != nil {
		t.Error("SetTTL:", err)
	}

	server.Returns("$5\r\nhello\r\n")
	value, err := client.Get("greeting")
	if err != nil {
		t.Error("Get:", err)
	} else if value == nil || *value != "hello" {
		t.Errorf("Get = %v, want hello", value)
	}

	server.Returns(":2\r\n")
	if n, err := client.Del("a", "b"); err != nil || n != 2 {
		t.Errorf("Del = %d, %v", n, err)
	}

	server.Returns(":1\r\n")
	if n, err := client.Exists("greeting"); err != nil || n != 1 {
		t.Errorf("Exists = %d, %v", n, err)
	}

	server.Returns(":41\r\n")
	if n, err := client.Incr("counter"); err != nil || n != 41 {
		t.Errorf("Incr = %d, %v", n, err)
	}

	server.Returns(":51\r\n")
	if n, err := client.IncrBy("counter", 10); err != nil || n != 51 {
		t.Errorf("IncrBy = %d, %v", n, err)
	}

	server.Returns(":50\r\n")
	if n, err := client.Decr("counter"); err != nil || n != 50 {
		t.Errorf("Decr = %d, %v", n, err)
	}

	server.Returns(":1\r\n")
	if ok, err := client.Expire("greeting", time.Minute); err != nil || !ok {
		t.Errorf("Expire = %v, %v", ok, err)
	}

	server.Returns(":42\r\n")
	if ttl, err := client.TTL("greeting"); err != nil || ttl != 42*time.Second {
		t.Errorf("TTL = %v, %v", ttl, err)
	}

	server.Returns("*2\r\n$8\r\ngreeting\r\n$7\r\ncounter\r\n")
	if keys, err := client.Keys("*"); err != nil || len(keys) != 2 {
		t.Errorf("Keys = %v, %v", keys, err)
	}

	server.Returns(":3\r\n")
	if n, err := client.RPush("list", "a", "b", "c"); err != nil || n != 3 {
		t.Errorf("RPush = %d, %v", n, err)
	}

	server.Returns(":4\r\n")
	if n, err := client.LPush("list", "z"); err != nil || n != 4 {
		t.Errorf("LPush = %d, %v", n, err)
	}

	server.Returns("*2\r\n$1\r\nz\r\n$1\r\na\r\n")
	if elems, err := client.LRange("list", 0, 1); err != nil || len(elems) != 2 {
		t.Errorf("LRange = %v, %v", elems, err)
	}

	server.Returns("+OK\r\n")
	if err := client.FlushDB(); err != nil {
		t.Error("FlushDB:", err)
	}

	if err := client.Close(); err != nil {
		t.Error(err)
	}
	server.Close()

	// spot-check what went over the wire
	history := server.History()
	if history[3][3] != "PX" || history[3][4] != "90000" {
		t.Errorf("SetTTL frame = %v", history[3])
	}
	if history[8][0] != "INCRBY" || history[8][2] != "10" {
		t.Errorf("IncrBy frame = %v", history[8])
	}
}

func TestClientSelectAndAuth(t *testing.T) {
	defer leaktest.Check(t)()
	Logger = &testLogger{t}

	server := NewMockServer(t)
	client := newTestClient(t, server)

	server.Returns("+OK\r\n")
	if err := client.Select(5); err != nil {
		t.Fatal(err)
	}
	if client.Config().DB != 5 {
		t.Errorf("Select did not record DB %d for redial", client.Config().DB)
	}

	server.Returns("+OK\r\n")
	if err := client.Auth("default", "hunter2"); err != nil {
		t.Fatal(err)
	}
	if !client.Config().Auth.Enable || client.Config().Auth.Password != "hunter2" {
		t.Error("Auth did not record the credentials for redial")
	}

	if err := client.Close(); err != nil {
		t.Error(err)
	}
	server.Close()

	history := server.History()
	if len(history) != 2 || history[0][1] != "5" || history[1][0] != "AUTH" {
		t.Errorf("server saw %v", history)
	}
}

func TestClientConcurrentCommands(t *testing.T) {
	defer leaktest.Check(t)()
	Logger = &testLogger{t}

	const workers = 20

	server := NewMockServer(t)
	for i := 0; i < workers; i++ {
		server.Returns("+PONG\r\n")
	}
	client := newTestClient(t, server)

	var group errgroup.Group
	for i := 0; i < workers; i++ {
		group.Go(client.Ping)
	}
	if err := group.Wait(); err != nil {
		t.Fatal(err)
	}

	if err := client.Close(); err != nil {
		t.Error(err)
	}
	server.Close()

	if got := len(server.History()); got != workers {
		t.Errorf("server saw %d commands, want %d", got, workers)
	}
}

func TestClientNullHandling(t *testing.T) {
	defer leaktest.Check(t)()
	Logger = &testLogger{t}

	server := NewMockServer(t)
	client := newTestClient(t, server)

	server.Returns("$-1\r\n")
	value, err := client.Get("missing")
	if err != nil {
		t.Fatal(err)
	}
	if value != nil {
		t.Errorf("Get(missing) = %q, want nil", *value)
	}

	server.Returns("$-1\r\n")
	pooled, err := client.GetBytes("missing")
	if err != nil {
		t.Fatal(err)
	}
	if pooled != nil {
		t.Errorf("GetBytes(missing) = %q, want nil", pooled.String())
	}

	server.Returns("*3\r\n$3\r\nfoo\r\n$-1\r\n$0\r\n\r\n")
	values, err := client.MGet("a", "b", "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 3 || values[0] != "foo" || values[1] != "" || values[2] != "" {
		t.Errorf("MGet = %v", values)
	}

	server.Returns("*2\r\n$3\r\nfoo\r\n$-1\r\n")
	handles, err := client.MGetBytes("a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(handles) != 2 || handles[0].String() != "foo" || handles[1] != nil {
		t.Errorf("MGetBytes = %v", handles)
	}
	handles[0].Release()

	if err := client.Close(); err != nil {
		t.Error(err)
	}
	server.Close()
}

func TestClientDoDispatch(t *testing.T) {
	defer leaktest.Check(t)()
	Logger = &testLogger{t}

	server := NewMockServer(t)
	client := newTestClient(t, server)

	server.Returns("$6\r\nfoobar\r\n")
	reply, err := client.Do(NewCommand("GETRANGE", "key", "0", "5"))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Kind != '$' || reply.Str != "foobar" || reply.Null {
		t.Errorf("Do bulk reply = %+v", reply)
	}

	server.Returns(":12\r\n")
	reply, err = client.Do(NewCommand("STRLEN", "key"))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Kind != ':' || reply.Str != "12" {
		t.Errorf("Do integer reply = %+v", reply)
	}

	server.Returns("*2\r\n$1\r\na\r\n$1\r\nb\r\n")
	reply, err = client.Do(NewCommand("SMEMBERS", "set"))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Kind != '*' || len(reply.Elems) != 2 {
		t.Errorf("Do array reply = %+v", reply)
	}

	server.Returns("*-1\r\n")
	reply, err = client.Do(NewCommand("BLPOP", "list", "0"))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Kind != '*' || !reply.Null {
		t.Errorf("Do null array reply = %+v", reply)
	}

	if err := client.Close(); err != nil {
		t.Error(err)
	}
	server.Close()
}

func TestClientServerErrorIsNotRetried(t *testing.T) {
	defer leaktest.Check(t)()
	Logger = &testLogger{t}

	server := NewMockServer(t)
	client := newTestClient(t, server)

	server.Returns("-ERR wrong number of arguments\r\n")
	_, err := client.Incr("")
	var serverErr ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}

	if err := client.Close(); err != nil {
		t.Error(err)
	}
	server.Close()

	if got := len(server.History()); got != 1 {
		t.Errorf("server saw %d commands, want 1 (no retry on server error)", got)
	}
}

func TestClientCompressionRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()
	Logger = &testLogger{t}

	server := NewMockServer(t)

	conf := NewTestConfig()
	conf.Compression.Codec = CompressionSnappy
	conf.Compression.Threshold = 1
	client, err := NewClient([]string{server.Addr()}, conf)
	if err != nil {
		t.Fatal(err)
	}

	plaintext := "the quick brown fox jumps over the lazy dog"
	server.Returns("+OK\r\n")
	if err := client.Set("fox", plaintext); err != nil {
		t.Fatal(err)
	}

	stored := server.History()[0][2]
	if stored == plaintext {
		t.Fatal("value went over the wire uncompressed")
	}

	// echo the stored bytes back the way a real server would
	server.Returns(fmt.Sprintf("$%d\r\n%s\r\n", len(stored), stored))
	value, err := client.Get("fox")
	if err != nil {
		t.Fatal(err)
	}
	if value == nil || *value != plaintext {
		t.Errorf("Get = %v, want the original plaintext", value)
	}

	if err := client.Close(); err != nil {
		t.Error(err)
	}
	server.Close()
}

func TestClientOutOfServers(t *testing.T) {
	defer leaktest.Check(t)()
	Logger = &testLogger{t}

	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	if err := listener.Close(); err != nil {
		t.Fatal(err)
	}

	conf := NewTestConfig()
	conf.Net.DialTimeout = 250 * time.Millisecond

	_, err = NewClient([]string{addr}, conf)
	if !errors.Is(err, ErrOutOfServers) {
		t.Errorf("NewClient = %v, want ErrOutOfServers", err)
	}
}

func TestClientClosed(t *testing.T) {
	defer leaktest.Check(t)()
	Logger = &testLogger{t}

	server := NewMockServer(t)
	client := newTestClient(t, server)

	if client.Closed() {
		t.Error("fresh client reports closed")
	}
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if !client.Closed() {
		t.Error("client does not report closed")
	}
	if err := client.Close(); !errors.Is(err, ErrClosedClient) {
		t.Errorf("second Close = %v, want ErrClosedClient", err)
	}
	if err := client.Ping(); !errors.Is(err, ErrClosedClient) {
		t.Errorf("Ping on closed client = %v, want ErrClosedClient", err)
	}
	server.Close()
}
