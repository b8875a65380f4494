package queue

import (
	"errors"
	"testing"
)

func TestEnqueue_OverflowDropsOldest(t *testing.T) {
	q := New(3)
	q.Enqueue(Message{Topic: "t", Payload: []byte("1")})
	q.Enqueue(Message{Topic: "t", Payload: []byte("2")})
	q.Enqueue(Message{Topic: "t", Payload: []byte("3")})
	dropped := q.Enqueue(Message{Topic: "t", Payload: []byte("4")})

	if !dropped {
		t.Fatalf("Enqueue() at capacity did not report a drop")
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	var got []string
	err := q.FlushTo(func(m Message) error {
		got = append(got, string(m.Payload))
		return nil
	})
	if err != nil {
		t.Fatalf("FlushTo() error = %v", err)
	}
	want := []string{"2", "3", "4"}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("FlushTo() order = %v, want %v", got, want)
		}
	}
}

func TestEnqueue_1001Messages_OverflowsTo1000AndDrops1(t *testing.T) {
	q := New(DefaultCapacity)
	for i := 1; i <= 1001; i++ {
		q.Enqueue(Message{Topic: "t", Payload: []byte{byte(i % 256)}})
	}
	if q.Len() != 1000 {
		t.Fatalf("Len() = %d, want 1000", q.Len())
	}

	var first, last int
	n := 0
	_ = q.FlushTo(func(m Message) error {
		n++
		if n == 1 {
			first = int(m.Payload[0])
		}
		last = int(m.Payload[0])
		return nil
	})
	if first != 2%256 {
		t.Fatalf("first surviving message tag = %d, want %d (payload 2)", first, 2%256)
	}
	if last != 1001%256 {
		t.Fatalf("last surviving message tag = %d, want %d (payload 1001)", last, 1001%256)
	}
}

func TestFlushTo_StopsOnFirstErrorLeavesRemainder(t *testing.T) {
	q := New(10)
	q.Enqueue(Message{Payload: []byte("1")})
	q.Enqueue(Message{Payload: []byte("2")})
	q.Enqueue(Message{Payload: []byte("3")})

	boom := errors.New("boom")
	calls := 0
	err := q.FlushTo(func(m Message) error {
		calls++
		if string(m.Payload) == "2" {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("FlushTo() error = %v, want %v", err, boom)
	}
	if calls != 2 {
		t.Fatalf("FlushTo() called publish %d times, want 2", calls)
	}
	if q.Len() != 2 {
		t.Fatalf("Len() after partial flush = %d, want 2 (the failed message and its successor remain)", q.Len())
	}
}

func TestClear_DropsEverything(t *testing.T) {
	q := New(10)
	q.Enqueue(Message{Payload: []byte("1")})
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("Len() after Clear() = %d, want 0", q.Len())
	}
}
