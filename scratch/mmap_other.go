// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

//go:build !unix

package scratch

import "os"

var pageSize = os.Getpagesize()

// mmap falls back to heap memory where there are no anonymous mappings.
func mmap(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmap(mem []byte) {}
