package stat

import (
	"encoding/binary"
	"testing"
)

func TestWriteAccessorsRoundTripThroughBytes(t *testing.T) {
	var st Stat_t
	st.Wdev(1)
	st.Wino(2)
	st.Wmode(0100644)
	st.Wsize(4096)
	st.Wrdev(0)

	if st.Dev() != 1 || st.Ino() != 2 || st.Mode() != 0100644 || st.Size() != 4096 {
		t.Fatalf("accessors = dev:%d ino:%d mode:%o size:%d", st.Dev(), st.Ino(), st.Mode(), st.Size())
	}

	b := st.Bytes()
	if len(b) != 48 {
		t.Fatalf("Bytes() returned %d bytes, want 48", len(b))
	}
	if got := binary.LittleEndian.Uint64(b[16:24]); got != 0100644 {
		t.Fatalf("encoded mode = %o, want 0100644", got)
	}
	if got := binary.LittleEndian.Uint64(b[24:32]); got != 4096 {
		t.Fatalf("encoded size = %d, want 4096", got)
	}
}
