package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"go.uber.org/goleak"

	"github.com/tkrause/leitung/pkg/api"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestTransport(cfg Config) *Transport {
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg)
}

func rawRequest(id int, method string) []byte {
	return fmt.Appendf(nil, `{"jsonrpc":"2.0","id":%d,"method":%q}`, id, method)
}

func decodeRequest(t *testing.T, id int, method string) api.Message {
	t.Helper()
	msg, err := (api.JSONRPCCodec{}).Decode(rawRequest(id, method))
	if err != nil {
		t.Fatalf("decoding test message: %v", err)
	}
	return msg
}

func methodOf(t *testing.T, msg api.Message) string {
	t.Helper()
	req, ok := msg.(*jsonrpc.Request)
	if !ok {
		t.Fatalf("message type = %T, want *jsonrpc.Request", msg)
	}
	return req.Method
}

func TestSubmitReceiveRoundTrip(t *testing.T) {
	tr := newTestTransport(Config{})
	defer tr.Shutdown()

	const submitters, perSubmitter = 5, 10

	received := make(map[string]bool)
	var recvWG sync.WaitGroup
	recvWG.Add(1)
	go func() {
		defer recvWG.Done()
		for range submitters * perSubmitter {
			msg, err := tr.Receive(context.Background())
			if err != nil {
				t.Errorf("Receive failed: %v", err)
				return
			}
			received[methodOf(t, msg)] = true
		}
	}()

	var wg sync.WaitGroup
	for i := range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range perSubmitter {
				raw := fmt.Appendf(nil, `{"jsonrpc":"2.0","id":1,"method":"m/%d/%d"}`, i, j)
				if err := tr.Submit(context.Background(), raw); err != nil {
					t.Errorf("Submit failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	recvWG.Wait()

	if len(received) != submitters*perSubmitter {
		t.Errorf("received %d distinct messages, want %d", len(received), submitters*perSubmitter)
	}
}

func TestSubmitMalformed(t *testing.T) {
	tr := newTestTransport(Config{})
	defer tr.Shutdown()

	err := tr.Submit(context.Background(), []byte("not json"))
	if api.ErrorKindOf(err) != api.ErrorKindDecode {
		t.Fatalf("error kind = %q, want %q", api.ErrorKindOf(err), api.ErrorKindDecode)
	}

	// A rejected submission must not occupy queue space.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := tr.Receive(ctx); err != context.DeadlineExceeded {
		t.Errorf("Receive after rejected submission = %v, want deadline exceeded", err)
	}
}

func TestSubmitSuspendsWhenFull(t *testing.T) {
	tr := newTestTransport(Config{InboundCapacity: 1})
	defer tr.Shutdown()

	if err := tr.Submit(context.Background(), rawRequest(1, "first")); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- tr.Submit(context.Background(), rawRequest(2, "second"))
	}()

	select {
	case err := <-unblocked:
		t.Fatalf("second Submit returned %v before queue space freed", err)
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := tr.Receive(context.Background()); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if err := <-unblocked; err != nil {
		t.Fatalf("second Submit failed after space freed: %v", err)
	}

	msg, err := tr.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if got := methodOf(t, msg); got != "second" {
		t.Errorf("method = %q, want %q", got, "second")
	}
}

func TestSubmitCancelled(t *testing.T) {
	tr := newTestTransport(Config{InboundCapacity: 1})
	defer tr.Shutdown()

	if err := tr.Submit(context.Background(), rawRequest(1, "fill")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tr.Submit(ctx, rawRequest(2, "blocked"))
	if api.ErrorKindOf(err) != api.ErrorKindCancelled {
		t.Fatalf("error kind = %q, want %q", api.ErrorKindOf(err), api.ErrorKindCancelled)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	tr := newTestTransport(Config{})
	tr.Shutdown()

	err := tr.Submit(context.Background(), rawRequest(1, "late"))
	if api.ErrorKindOf(err) != api.ErrorKindCancelled {
		t.Fatalf("error kind = %q, want %q", api.ErrorKindOf(err), api.ErrorKindCancelled)
	}
}

func TestReceiveDrainsAfterShutdown(t *testing.T) {
	tr := newTestTransport(Config{})

	for i := range 3 {
		if err := tr.Submit(context.Background(), rawRequest(i, fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	tr.Shutdown()

	for i := range 3 {
		msg, err := tr.Receive(context.Background())
		if err != nil {
			t.Fatalf("Receive %d after shutdown failed: %v", i, err)
		}
		if got, want := methodOf(t, msg), fmt.Sprintf("m%d", i); got != want {
			t.Errorf("method = %q, want %q", got, want)
		}
	}

	_, err := tr.Receive(context.Background())
	if api.ErrorKindOf(err) != api.ErrorKindTransportClosed {
		t.Fatalf("error kind after drain = %q, want %q", api.ErrorKindOf(err), api.ErrorKindTransportClosed)
	}
}

func TestReceiveContextCancelled(t *testing.T) {
	tr := newTestTransport(Config{})
	defer tr.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := tr.Receive(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Receive = %v, want deadline exceeded", err)
	}
}

func TestInitializeCaptureOverwrite(t *testing.T) {
	tr := newTestTransport(Config{})
	defer tr.Shutdown()

	if _, ok := tr.InitializeParams(); ok {
		t.Fatal("expected no captured params before any initialize")
	}

	first := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{"roots":{}},"clientInfo":{"name":"alpha","version":"1"}}}`)
	second := []byte(`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"beta","version":"2"}}}`)

	if err := tr.Submit(context.Background(), first); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	raw, ok := tr.InitializeParams()
	if !ok {
		t.Fatal("expected captured params after first initialize")
	}
	params, err := api.ParseInitializeParams(raw)
	if err != nil {
		t.Fatalf("ParseInitializeParams failed: %v", err)
	}
	if params.ClientInfo.Name != "alpha" {
		t.Errorf("ClientInfo.Name = %q, want %q", params.ClientInfo.Name, "alpha")
	}

	if err := tr.Submit(context.Background(), second); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	raw, _ = tr.InitializeParams()
	params, err = api.ParseInitializeParams(raw)
	if err != nil {
		t.Fatalf("ParseInitializeParams failed: %v", err)
	}
	if params.ClientInfo.Name != "beta" {
		t.Errorf("ClientInfo.Name = %q, want %q", params.ClientInfo.Name, "beta")
	}
	// Replacement is wholesale: capabilities from the first capture must
	// not survive into the second.
	if len(params.Capabilities) != 0 {
		t.Errorf("Capabilities = %v, want empty after overwrite", params.Capabilities)
	}
}

func TestSubscribeDuplicateID(t *testing.T) {
	tr := newTestTransport(Config{})
	defer tr.Shutdown()

	sub, err := tr.Subscribe("sub_a")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if _, err := tr.Subscribe("sub_a"); err == nil {
		t.Fatal("expected duplicate subscriber ID to be rejected")
	}
}

func TestSubscribeAfterShutdown(t *testing.T) {
	tr := newTestTransport(Config{})
	tr.Shutdown()

	if _, err := tr.Subscribe("sub_late"); api.ErrorKindOf(err) != api.ErrorKindTransportClosed {
		t.Fatalf("error kind = %q, want %q", api.ErrorKindOf(err), api.ErrorKindTransportClosed)
	}
}

func TestBroadcastOrder(t *testing.T) {
	tr := newTestTransport(Config{OutboundCapacity: 5})
	defer tr.Shutdown()

	sub, err := tr.Subscribe("sub_order")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	for i := range 3 {
		tr.Broadcast(decodeRequest(t, i, fmt.Sprintf("m%d", i)))
	}

	for i := range 3 {
		msg, err := sub.Next(context.Background())
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if got, want := methodOf(t, msg), fmt.Sprintf("m%d", i); got != want {
			t.Errorf("message %d method = %q, want %q", i, got, want)
		}
	}
}

func TestBroadcastSlowSubscriberIsolation(t *testing.T) {
	tr := newTestTransport(Config{OutboundCapacity: 1, BroadcastWait: 0})
	defer tr.Shutdown()

	slow, err := tr.Subscribe("sub_slow")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer slow.Close()

	fast, err := tr.Subscribe("sub_fast")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer fast.Close()

	tr.Broadcast(decodeRequest(t, 1, "m1"))

	// The fast subscriber drains; the slow one keeps its queue full.
	msg, err := fast.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := methodOf(t, msg); got != "m1" {
		t.Errorf("fast subscriber got %q, want %q", got, "m1")
	}

	tr.Broadcast(decodeRequest(t, 2, "m2"))

	msg, err = fast.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := methodOf(t, msg); got != "m2" {
		t.Errorf("fast subscriber got %q, want %q", got, "m2")
	}

	// The slow subscriber still holds m1; m2 was dropped for it only.
	msg, err = slow.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := methodOf(t, msg); got != "m1" {
		t.Errorf("slow subscriber got %q, want %q", got, "m1")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := slow.Next(ctx); err != context.DeadlineExceeded {
		t.Errorf("slow subscriber Next = %v, want deadline exceeded", err)
	}
}

func TestBroadcastBoundedWaitDelivers(t *testing.T) {
	tr := newTestTransport(Config{OutboundCapacity: 1, BroadcastWait: 500 * time.Millisecond})
	defer tr.Shutdown()

	sub, err := tr.Subscribe("sub_waiting")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	tr.Broadcast(decodeRequest(t, 1, "m1"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		sub.Next(context.Background())
	}()

	// Queue is full, but a slot frees within the bounded wait.
	tr.Broadcast(decodeRequest(t, 2, "m2"))

	msg, err := sub.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := methodOf(t, msg); got != "m2" {
		t.Errorf("method = %q, want %q", got, "m2")
	}
}

func TestSubscriptionClose(t *testing.T) {
	tr := newTestTransport(Config{})
	defer tr.Shutdown()

	sub, err := tr.Subscribe("sub_x")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if got := tr.SubscriberCount(); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	sub.Close()
	sub.Close() // idempotent

	if got := tr.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount after Close = %d, want 0", got)
	}

	if _, err := sub.Next(context.Background()); api.ErrorKindOf(err) != api.ErrorKindSubscriptionClosed {
		t.Fatalf("error kind = %q, want %q", api.ErrorKindOf(err), api.ErrorKindSubscriptionClosed)
	}

	// Broadcast after Close must neither panic nor deliver.
	tr.Broadcast(decodeRequest(t, 1, "late"))
}

func TestSubscriptionNextDrainsBeforeClosure(t *testing.T) {
	tr := newTestTransport(Config{OutboundCapacity: 2})
	defer tr.Shutdown()

	sub, err := tr.Subscribe("sub_drain")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	tr.Broadcast(decodeRequest(t, 1, "queued"))
	sub.Close()

	msg, err := sub.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := methodOf(t, msg); got != "queued" {
		t.Errorf("method = %q, want %q", got, "queued")
	}

	if _, err := sub.Next(context.Background()); api.ErrorKindOf(err) != api.ErrorKindSubscriptionClosed {
		t.Fatalf("error kind = %q, want %q", api.ErrorKindOf(err), api.ErrorKindSubscriptionClosed)
	}
}

func TestShutdownUnblocksNext(t *testing.T) {
	tr := newTestTransport(Config{})

	sub, err := tr.Subscribe("sub_blocked")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	tr.Shutdown()
	tr.Shutdown() // idempotent

	select {
	case err := <-errCh:
		if api.ErrorKindOf(err) != api.ErrorKindTransportClosed {
			t.Fatalf("error kind = %q, want %q", api.ErrorKindOf(err), api.ErrorKindTransportClosed)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after shutdown")
	}
}
