// Package elffmt parses ELF64 executables for the exec pipeline, per
// spec.md §6. It is grounded on kernel/chentry.go's use of debug/elf
// and its x86_64/little-endian/ET_EXEC validation checks, generalized
// here from header-patching into full program-header segment
// extraction for loading into a fresh address space.
package elffmt

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
)

// Perm bits for a loadable segment, matching vm.Vm_t.Vmadd_anon's
// perms argument.
const (
	PermRead  = 1 << 0
	PermWrite = 1 << 1
	PermExec  = 1 << 2
)

// Segment is one PT_LOAD program header: a contiguous mapping backed
// by file bytes, possibly extending past Filesz with demand-zero
// bytes out to Memsz (the .bss tail).
type Segment struct {
	Vaddr  uint64
	Filesz uint64
	Memsz  uint64
	Offset uint64
	Perms  uint
	Data   []byte // the segment's file-backed bytes, len == Filesz
}

// Image is a validated, parsed ELF64 executable ready for loading.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// Parse validates and decodes an ELF64 x86_64 executable out of raw
// bytes, following chkELF's checks (little-endian, ET_EXEC,
// EM_X86_64) but returning an error instead of calling log.Fatal,
// since this runs inside the kernel's exec path rather than a
// standalone command-line tool.
func Parse(data []byte) (*Image, error) {
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("elffmt: %w", err)
	}
	if err := validate(&ef.FileHeader); err != nil {
		return nil, err
	}

	img := &Image{Entry: ef.FileHeader.Entry}
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		seg := Segment{
			Vaddr:  prog.Vaddr,
			Filesz: prog.Filesz,
			Memsz:  prog.Memsz,
			Offset: prog.Off,
			Perms:  permsOf(prog.Flags),
		}
		buf := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(io.NewSectionReader(bytes.NewReader(data), int64(prog.Off), int64(prog.Filesz)), buf); err != nil {
			return nil, fmt.Errorf("elffmt: reading segment at 0x%x: %w", prog.Vaddr, err)
		}
		seg.Data = buf
		img.Segments = append(img.Segments, seg)
	}
	return img, nil
}

func validate(eh *elf.FileHeader) error {
	if eh.Data != elf.ELFDATA2LSB {
		return fmt.Errorf("elffmt: not little-endian")
	}
	if eh.Type != elf.ET_EXEC {
		return fmt.Errorf("elffmt: not an executable ELF (type %v)", eh.Type)
	}
	if eh.Machine != elf.EM_X86_64 {
		return fmt.Errorf("elffmt: not an x86_64 ELF (machine %v)", eh.Machine)
	}
	return nil
}

func permsOf(flags elf.ProgFlag) uint {
	var p uint
	if flags&elf.PF_R != 0 {
		p |= PermRead
	}
	if flags&elf.PF_W != 0 {
		p |= PermWrite
	}
	if flags&elf.PF_X != 0 {
		p |= PermExec
	}
	return p
}
