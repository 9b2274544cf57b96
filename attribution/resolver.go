// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package attribution

import (
	"errors"
	"fmt"
	"io"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/siemens/procshark/api"
	log "github.com/sirupsen/logrus"
)

// Table gives access to the live process and socket tables of the OS.
type Table interface {
	// Pids starts a new scan and returns the IDs of all live processes, in the
	// order the OS reports them. The returned slice is only valid until the
	// next call to Pids.
	Pids() ([]int32, error)
	// Sockets calls fn for each TCP/IPv4 socket of the specified process,
	// skipping all descriptors that aren't sockets, until fn returns false.
	Sockets(pid int32, fn func(api.ProcessSocket) bool) error
}

// Names of the available socket tables.
const (
	ProcFSTable = "procfs"
	PSUtilTable = "psutil"
)

// ErrNotIPv4 is returned when trying to resolve a flow that isn't IPv4.
var ErrNotIPv4 = errors.New("only IPv4 flows can be attributed")

// NewTable returns a new socket table of the specified kind. An empty kind
// selects the most efficient table available on this platform.
func NewTable(kind string) (Table, error) {
	switch kind {
	case "":
		if t, err := newProcFSTable(); err == nil {
			return t, nil
		}
		return NewPSUtil(), nil
	case ProcFSTable:
		return newProcFSTable()
	case PSUtilTable:
		return NewPSUtil(), nil
	}
	return nil, fmt.Errorf("unknown socket table %q, must be one of: %s, %s",
		kind, ProcFSTable, PSUtilTable)
}

// Resolver attributes flows to the processes owning them.
type Resolver struct {
	table Table
}

// NewResolver returns a Resolver working on the given socket table.
func NewResolver(table Table) *Resolver {
	return &Resolver{table: table}
}

// Resolve returns the ID of the first process in OS enumeration order owning
// a socket that matches the flow in either direction. If there is no such
// process, found is false, but err is nil: not finding an owner is a normal
// outcome, not an error.
func (r *Resolver) Resolve(f api.Flow) (pid int32, found bool, err error) {
	if !f.IsIPv4() {
		return 0, false, ErrNotIPv4
	}
	pids, err := r.table.Pids()
	if err != nil {
		return 0, false, fmt.Errorf("cannot list processes: %w", err)
	}
	for _, candidate := range pids {
		err := r.table.Sockets(candidate, func(s api.ProcessSocket) bool {
			found = s.Matches(f)
			return !found
		})
		if found {
			return candidate, true, nil
		}
		if err != nil {
			// Processes come and go, and we might lack the privileges to
			// peek into foreign processes, so just skip them.
			log.Debugf("skipping sockets of process %d: %s", candidate, err.Error())
		}
	}
	return 0, false, nil
}

// Close releases the resources of the resolver's socket table, if any.
func (r *Resolver) Close() error {
	if c, ok := r.table.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ExecutablePath returns the path of the executable the specified process is
// running.
func ExecutablePath(pid int32) (string, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return "", err
	}
	return p.Exe()
}
