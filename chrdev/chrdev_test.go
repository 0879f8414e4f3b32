package chrdev

import (
	"testing"

	"github.com/BouwerMan/helios-sub001/defs"
)

func TestRegisterThenLookupFindsTheDevice(t *testing.T) {
	r := NewRegistry()
	n := Null{}
	r.Register(defs.D_DEVNULL, 0, n)

	d, ok := r.Lookup(defs.D_DEVNULL, 0)
	if !ok {
		t.Fatal("expected Lookup to find the registered device")
	}
	if _, isNull := d.(Null); !isNull {
		t.Fatalf("Lookup returned %T, want Null", d)
	}
}

func TestLookupOfUnregisteredDeviceFails(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup(defs.D_RAWDISK, 0); ok {
		t.Fatal("expected Lookup on an empty registry to fail")
	}
}

func TestNullReadsEOFAndDiscardsWrites(t *testing.T) {
	var n Null
	buf := make([]byte, 8)
	nr, err := n.Read(buf, 0)
	if nr != 0 || err != 0 {
		t.Fatalf("Read() = (%d, %d), want (0, 0)", nr, err)
	}
	nw, err := n.Write([]byte("hello"), 0)
	if nw != 5 || err != 0 {
		t.Fatalf("Write() = (%d, %d), want (5, 0)", nw, err)
	}
}

func TestConsoleWriteForwardsToSink(t *testing.T) {
	var got string
	c := NewConsole(func(s string) { got += s })

	n, err := c.Write([]byte("boot ok\n"), 0)
	if err != 0 || n != len("boot ok\n") {
		t.Fatalf("Write() = (%d, %d), want (%d, 0)", n, err, len("boot ok\n"))
	}
	if got != "boot ok\n" {
		t.Fatalf("sink received %q, want %q", got, "boot ok\n")
	}
}

func TestConsoleReadReportsEOF(t *testing.T) {
	c := NewConsole(func(string) {})
	n, err := c.Read(make([]byte, 4), 0)
	if n != 0 || err != 0 {
		t.Fatalf("Read() = (%d, %d), want (0, 0)", n, err)
	}
}
