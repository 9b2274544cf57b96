// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

//go:build unix

package scratch

import "golang.org/x/sys/unix"

var pageSize = unix.Getpagesize()

// mmap maps size bytes of fresh anonymous memory.
func mmap(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmap(mem []byte) {
	_ = unix.Munmap(mem)
}
