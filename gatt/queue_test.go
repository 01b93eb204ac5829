package gatt_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"robolink/fault"
	"robolink/gatt"
	"robolink/gatt/gatttest"
)

func TestQueueSerializesReadsAndWrites(t *testing.T) {
	tr := gatttest.New()
	dev := tr.AddDevice("RobotA")
	status := dev.AddCharacteristic("svc-get", "chr-status", gatt.Props{Read: true})
	cmd := dev.AddCharacteristic("svc-cmd", "chr-cmd", gatt.Props{Write: true})
	status.SetDelay(5 * time.Millisecond)
	cmd.SetDelay(5 * time.Millisecond)

	raw, err := tr.Connect(context.Background(), gatt.Request{Name: "RobotA"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	link := gatt.Serialize(raw, gatt.NewQueue(time.Second))
	ctx := context.Background()
	rch, _ := link.Channel(ctx, "svc-get", "chr-status")
	wch, _ := link.Channel(ctx, "svc-cmd", "chr-cmd")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := link.Read(ctx, rch); err != nil {
				t.Errorf("read: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := link.Write(ctx, wch, []byte("{}"), true); err != nil {
				t.Errorf("write: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := tr.MaxConcurrent(); got != 1 {
		t.Errorf("max concurrent transport ops = %d, want 1", got)
	}
	if got := len(cmd.Writes()); got != 8 {
		t.Errorf("writes = %d, want 8", got)
	}
}

func TestQueueTimeout(t *testing.T) {
	q := gatt.NewQueue(20 * time.Millisecond)

	err := q.Do(context.Background(), "slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if !fault.Is(err, fault.Timeout) {
		t.Fatalf("err = %v, want timeout", err)
	}

	// The slot is released even though the slow op is still running.
	done := make(chan error, 1)
	go func() {
		done <- q.Do(context.Background(), "fast", func(ctx context.Context) error { return nil })
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("fast op: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queue slot not released after timeout")
	}

	if s := q.Stats(); s.Timeouts != 1 || s.Ops != 2 {
		t.Errorf("stats = %+v, want 2 ops / 1 timeout", s)
	}
}

func TestQueueCancelledWhileWaiting(t *testing.T) {
	q := gatt.NewQueue(0)
	release := make(chan struct{})
	go q.Do(context.Background(), "hold", func(ctx context.Context) error {
		<-release
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Do(ctx, "waiting", func(ctx context.Context) error { return nil })
	close(release)

	if !fault.Is(err, fault.TransportDisconnected) {
		t.Fatalf("err = %v, want transport_disconnected", err)
	}
}

func TestParseFlags(t *testing.T) {
	p := gatt.ParseFlags([]string{"read", "write-without-response", "notify"})
	if !p.Read || p.Write || !p.WriteWithoutResponse || !p.Notify {
		t.Errorf("ParseFlags = %+v", p)
	}
}
