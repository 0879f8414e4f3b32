package elffmt

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMinimalElf64 hand-assembles a tiny, valid ELF64 x86_64 ET_EXEC
// image with a single PT_LOAD segment: filesz bytes of real content
// followed by a demand-zero tail out to memsz, matching what
// chentry.go's loader expects to hand off to the exec pipeline.
func buildMinimalElf64(entry, vaddr uint64, payload []byte, memsz uint64) []byte {
	const (
		ehsize = 64
		phsize = 56
	)
	phoff := uint64(ehsize)
	dataOff := uint64(ehsize + phsize)

	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', 2 /* ELFCLASS64 */, 1 /* ELFDATA2LSB */, 1 /* EV_CURRENT */, 0}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(2))      // e_type = ET_EXEC
	binary.Write(&buf, binary.LittleEndian, uint16(0x3e))   // e_machine = EM_X86_64
	binary.Write(&buf, binary.LittleEndian, uint32(1))      // e_version
	binary.Write(&buf, binary.LittleEndian, entry)          // e_entry
	binary.Write(&buf, binary.LittleEndian, phoff)          // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint64(0))      // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))      // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize)) // e_ehsize
	binary.Write(&buf, binary.LittleEndian, uint16(phsize)) // e_phentsize
	binary.Write(&buf, binary.LittleEndian, uint16(1))      // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))      // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0))      // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))      // e_shstrndx

	binary.Write(&buf, binary.LittleEndian, uint32(1))          // p_type = PT_LOAD
	binary.Write(&buf, binary.LittleEndian, uint32(5))          // p_flags = PF_R|PF_X
	binary.Write(&buf, binary.LittleEndian, dataOff)            // p_offset
	binary.Write(&buf, binary.LittleEndian, vaddr)              // p_vaddr
	binary.Write(&buf, binary.LittleEndian, vaddr)              // p_paddr
	binary.Write(&buf, binary.LittleEndian, uint64(len(payload))) // p_filesz
	binary.Write(&buf, binary.LittleEndian, memsz)              // p_memsz
	binary.Write(&buf, binary.LittleEndian, uint64(0x1000))     // p_align

	buf.Write(payload)
	return buf.Bytes()
}

func TestParseExtractsEntryAndLoadSegment(t *testing.T) {
	payload := []byte("HELLOWORLDBYTES!")
	raw := buildMinimalElf64(0x400000, 0x400000, payload, 32)

	img, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if img.Entry != 0x400000 {
		t.Fatalf("Entry = 0x%x, want 0x400000", img.Entry)
	}
	if len(img.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(img.Segments))
	}
	seg := img.Segments[0]
	if seg.Vaddr != 0x400000 || seg.Filesz != uint64(len(payload)) || seg.Memsz != 32 {
		t.Fatalf("segment = %+v, want vaddr 0x400000 filesz %d memsz 32", seg, len(payload))
	}
	if !bytes.Equal(seg.Data, payload) {
		t.Fatalf("segment data = %q, want %q", seg.Data, payload)
	}
	if seg.Perms&PermRead == 0 || seg.Perms&PermExec == 0 {
		t.Fatalf("expected R|X perms, got %b", seg.Perms)
	}
	if seg.Perms&PermWrite != 0 {
		t.Fatalf("did not expect write perm on a PF_R|PF_X segment")
	}
}

func TestParseRejectsNonExecutableType(t *testing.T) {
	raw := buildMinimalElf64(0x400000, 0x400000, []byte("x"), 1)
	// e_type lives right after the 16-byte e_ident block.
	raw[16] = 1 // ET_REL instead of ET_EXEC
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected Parse to reject a non-ET_EXEC image")
	}
}

func TestParseRejectsTruncatedInput(t *testing.T) {
	if _, err := Parse([]byte("not an elf")); err == nil {
		t.Fatal("expected Parse to reject garbage input")
	}
}
