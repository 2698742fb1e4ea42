// Package ipc holds the three primitives used for worker coordination: a
// shared memory region for live per-job progress, a parent<->child message
// channel, and the counting semaphore bounding concurrent spawned workers.
//
// None of mmp-bk's code touches IPC (it is single-process), so
// these are built fresh against the libraries this repo's domain stack
// assigns to this concern: golang.org/x/sys/unix for the mmap'd region
// (grounded on ndlib-bendo's go.mod, which carries golang.org/x/sys as a
// direct dependency even though bendo itself uses it for unrelated syscalls)
// and golang.org/x/sync/semaphore for the counting semaphore (grounded on
// pudd's go.mod, where it appears as an indirect dependency of the worker
// pool it never quite wires up itself).
package ipc

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mmp/ecpb/internal/model"
)

// regionHeaderSize is the fixed layout of the progress board: job_id (8
// bytes), processed_bytes (8 bytes), total_bytes (8 bytes), done flag (1
// byte).
const regionHeaderSize = 25

// Region is a small mmap-backed memory-mapped file used as a live progress
// board: the orchestrator reads it without round-tripping through the
// message channel, and a spawned worker writes to it directly.
type Region struct {
	mu   sync.Mutex
	f    *os.File
	data []byte
}

// OpenRegion creates (or truncates) path to hold the progress board and
// maps it into memory.
func OpenRegion(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open region file: %v", model.ErrIO, err)
	}
	if err := f.Truncate(int64(regionHeaderSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: truncate region file: %v", model.ErrIO, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, regionHeaderSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: mmap region: %v", model.ErrIO, err)
	}

	return &Region{f: f, data: data}, nil
}

// Close unmaps and closes the backing file.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := unix.Munmap(r.data); err != nil {
		r.f.Close()
		return fmt.Errorf("%w: munmap region: %v", model.ErrIO, err)
	}
	return r.f.Close()
}

// WriteProgress updates the board with the current job's progress.
func (r *Region) WriteProgress(jobID, processedBytes, totalBytes int64, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	binary.LittleEndian.PutUint64(r.data[0:8], uint64(jobID))
	binary.LittleEndian.PutUint64(r.data[8:16], uint64(processedBytes))
	binary.LittleEndian.PutUint64(r.data[16:24], uint64(totalBytes))
	if done {
		r.data[24] = 1
	} else {
		r.data[24] = 0
	}
}

// ReadProgress reads the current contents of the board.
func (r *Region) ReadProgress() (jobID, processedBytes, totalBytes int64, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobID = int64(binary.LittleEndian.Uint64(r.data[0:8]))
	processedBytes = int64(binary.LittleEndian.Uint64(r.data[8:16]))
	totalBytes = int64(binary.LittleEndian.Uint64(r.data[16:24]))
	done = r.data[24] != 0
	return
}

// RemoveRegionFile removes the backing file after Close.
func RemoveRegionFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove region file: %v", model.ErrIO, err)
	}
	return nil
}
