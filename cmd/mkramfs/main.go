// Command mkramfs builds a blockfs disk image from a host directory
// tree, for use as the optional disk image cmd/heliosd mounts at /data.
// Grounded on mkfs.go's host-directory-walk approach (filepath.WalkDir
// over a skeleton directory, replicating each entry into the target
// filesystem) but targets blockfs's flat inode-table layout instead of
// ufs's on-disk log-structured format.
package main

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BouwerMan/helios-sub001/blockdev"
	"github.com/BouwerMan/helios-sub001/blockfs"
)

func usage() {
	fmt.Printf("usage: mkramfs <skeleton-dir> <output-image>\n")
	os.Exit(1)
}

// node is one file or directory being placed into the image.
type node struct {
	ino     uint64
	isDir   bool
	hostPath string
	entries map[string]uint64 // only for directories: name -> child ino
	data    []byte            // only for files: file content
	blocks  []uint64          // relative data-block offsets assigned below
}

func main() {
	if len(os.Args) != 3 {
		usage()
	}
	skelDir := os.Args[1]
	outPath := os.Args[2]

	nodes := []*node{nil, {ino: 1, isDir: true, entries: map[string]uint64{}}}
	pathToIno := map[string]uint64{".": 1}

	err := filepath.WalkDir(skelDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(skelDir, path)
		if rerr != nil {
			return rerr
		}
		if rel == "." {
			return nil
		}
		parentRel := filepath.Dir(rel)
		parentIno, ok := pathToIno[parentRel]
		if !ok {
			return fmt.Errorf("mkramfs: no parent inode for %s", rel)
		}
		ino := uint64(len(nodes))
		n := &node{ino: ino, isDir: d.IsDir(), hostPath: path}
		if d.IsDir() {
			n.entries = map[string]uint64{}
		} else {
			content, rerr := os.ReadFile(path)
			if rerr != nil {
				return rerr
			}
			n.data = content
		}
		nodes = append(nodes, n)
		pathToIno[rel] = ino
		nodes[parentIno].entries[filepath.Base(rel)] = ino
		return nil
	})
	if err != nil {
		fmt.Printf("mkramfs: %v\n", err)
		os.Exit(1)
	}

	img, ierr := build(nodes)
	if ierr != nil {
		fmt.Printf("mkramfs: %v\n", ierr)
		os.Exit(1)
	}
	if werr := os.WriteFile(outPath, img, 0644); werr != nil {
		fmt.Printf("mkramfs: %v\n", werr)
		os.Exit(1)
	}
	fmt.Printf("mkramfs: wrote %s (%d bytes, %d inodes)\n", outPath, len(img), len(nodes)-1)
}

// build lays out nodes into a blockfs image: block 0 is the
// superblock, followed by the inode table, followed by the data
// region. Relative data-block offset 0 is never assigned (it would be
// indistinguishable from blockfs's "unallocated" sentinel in a
// DiskInode's Blocks array), so the first usable offset is 1.
func build(nodes []*node) ([]byte, error) {
	recordsPerBlock := blockdev.BSIZE / blockfs.RecordSize
	inodeBlocks := (len(nodes) + recordsPerBlock - 1) / recordsPerBlock

	nextRel := uint64(1)
	for _, n := range nodes {
		if n == nil {
			continue
		}
		var content []byte
		entriesPerBlock := blockdev.BSIZE / blockfs.DirentSize
		if n.isDir {
			content = encodeDirents(n.entries, entriesPerBlock)
		} else {
			content = n.data
		}
		nblocks := (len(content) + blockdev.BSIZE - 1) / blockdev.BSIZE
		if nblocks > blockfs.DirectBlocks {
			return nil, fmt.Errorf("%s exceeds max size for a direct-block-only inode", n.hostPath)
		}
		n.blocks = make([]uint64, nblocks)
		for i := 0; i < nblocks; i++ {
			n.blocks[i] = nextRel
			nextRel++
		}
		n.data = content
	}

	dataStart := uint64(1 + inodeBlocks)
	totalBlocks := dataStart + nextRel

	img := make([]byte, totalBlocks*blockdev.BSIZE)
	sb := blockfs.NewSuperblock(img[:blockdev.BSIZE])
	sb.SetMagic(blockfs.Magic)
	sb.SetNInodes(uint64(len(nodes)))
	sb.SetInodeStart(1)
	sb.SetInodeBlocks(uint64(inodeBlocks))
	sb.SetDataStart(dataStart)
	sb.SetRootIno(1)
	sb.SetLastBlock(totalBlocks - 1)

	for _, n := range nodes {
		if n == nil {
			continue
		}
		di := blockfs.DiskInode{Size: uint64(len(n.data))}
		if n.isDir {
			di.Mode = blockfs.ModeDir
		} else {
			di.Mode = blockfs.ModeFile
		}
		for i, rel := range n.blocks {
			di.Blocks[i] = rel
			blockNum := dataStart + rel
			off := blockNum * blockdev.BSIZE
			start := i * blockdev.BSIZE
			end := start + blockdev.BSIZE
			if end > len(n.data) {
				end = len(n.data)
			}
			copy(img[off:off+blockdev.BSIZE], n.data[start:end])
		}
		recBlock := uint64(1) + n.ino/uint64(recordsPerBlock)
		recOff := (n.ino % uint64(recordsPerBlock)) * uint64(blockfs.RecordSize)
		base := recBlock*blockdev.BSIZE + recOff
		blockfs.EncodeInodeRecord(img[base:base+blockfs.RecordSize], di)
	}

	return img, nil
}

func encodeDirents(entries map[string]uint64, entriesPerBlock int) []byte {
	if len(entries) == 0 {
		return nil
	}
	nblocks := (len(entries) + entriesPerBlock - 1) / entriesPerBlock
	buf := make([]byte, nblocks*blockdev.BSIZE)
	i := 0
	for name, ino := range entries {
		rec := buf[i*blockfs.DirentSize : (i+1)*blockfs.DirentSize]
		binary.LittleEndian.PutUint64(rec[0:8], ino)
		copy(rec[8:8+blockfs.DirentNameSz], name)
		i++
	}
	return buf
}
