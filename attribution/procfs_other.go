// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

//go:build !linux

package attribution

import "errors"

func newProcFSTable() (Table, error) {
	return nil, errors.New("procfs socket table is only supported on Linux")
}
