package transport

import (
	"errors"
	"net"
	"runtime"
	"testing"
)

func TestBindPortsAssignsDistinctPorts(t *testing.T) {
	block, err := BindPorts("127.0.0.1", 4)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer block.Close()

	if block.Len() != 4 {
		t.Fatalf("len mismatch: %d", block.Len())
	}
	ports := block.Ports()
	seen := make(map[int]bool, len(ports))
	for i, p := range ports {
		if p == 0 {
			t.Fatalf("port %d is zero", i)
		}
		if seen[p] {
			t.Fatalf("duplicate port %d", p)
		}
		seen[p] = true
	}
}

func TestPortBlockAcceptsOneConnPerCPU(t *testing.T) {
	block, err := BindPorts("127.0.0.1", 2)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer block.Close()

	for cpu, port := range block.Ports() {
		conn, err := net.Dial("tcp", JoinHostPort("127.0.0.1", port))
		if err != nil {
			t.Fatalf("dial cpu %d: %v", cpu, err)
		}
		accepted, err := block.Listener(cpu).Accept()
		if err != nil {
			t.Fatalf("accept cpu %d: %v", cpu, err)
		}
		accepted.Close()
		conn.Close()
	}
}

// A bind failure under a large requested count must not cost a
// count-sized allocation before the first listen attempt.
func TestBindPortsHugeCountNoUpfrontAllocation(t *testing.T) {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := BindPorts("bad host", 1<<26)
	runtime.ReadMemStats(&after)

	if err == nil {
		t.Fatalf("expected bind failure")
	}
	if grew := after.TotalAlloc - before.TotalAlloc; grew > 1<<20 {
		t.Fatalf("bind allocated %d bytes before failing", grew)
	}
}

func TestPortBlockCloseUnblocksAccept(t *testing.T) {
	block, err := BindPorts("127.0.0.1", 1)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	acceptErr := make(chan error, 1)
	go func() {
		_, err := block.Listener(0).Accept()
		acceptErr <- err
	}()

	if err := block.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-acceptErr; !errors.Is(err, net.ErrClosed) {
		t.Fatalf("expected net.ErrClosed, got %v", err)
	}
}

func TestJoinHostPort(t *testing.T) {
	if got := JoinHostPort("127.0.0.1", 8809); got != "127.0.0.1:8809" {
		t.Fatalf("got %q", got)
	}
	if got := JoinHostPort("::1", 8809); got != "[::1]:8809" {
		t.Fatalf("got %q", got)
	}
}
