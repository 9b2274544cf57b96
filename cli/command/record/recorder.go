// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package record

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/siemens/procshark/channel"
	"github.com/siemens/procshark/store"
	"github.com/siemens/procshark/wire"
	log "github.com/sirupsen/logrus"
)

// DefaultSaveEvery is the default number of packets after which the payload
// gets saved.
const DefaultSaveEvery = 1000

// Recorder stores the packet records received from a capture tool.
type Recorder struct {
	Store *store.Store
	// Save the payload every this many packets; defaults to
	// DefaultSaveEvery.
	SaveEvery int
	// Stop after this many packets, if non-zero.
	Count int

	m         sync.Mutex
	receiver  *channel.Receiver
	closeOnce sync.Once
	packets   int
	malformed int
}

// Stop gracefully closes the channel, asking the capture tool to stop. The
// records still in flight are received and stored.
func (r *Recorder) Stop() {
	r.m.Lock()
	rcv := r.receiver
	r.m.Unlock()
	if rcv == nil {
		return
	}
	r.closeOnce.Do(func() {
		// The receiving loop must keep reading for the close to complete.
		go rcv.Close()
	})
}

// Packets returns the number of packets stored so far.
func (r *Recorder) Packets() int {
	r.m.Lock()
	defer r.m.Unlock()
	return r.packets
}

// Receive stores the records received from the capture tool until the
// channel gets closed, returning the number of packets stored.
func (r *Recorder) Receive(rcv *channel.Receiver) (int, error) {
	r.m.Lock()
	r.receiver = rcv
	r.m.Unlock()
	saveEvery := r.SaveEvery
	if saveEvery <= 0 {
		saveEvery = DefaultSaveEvery
	}
	for {
		frame, err := rcv.Read()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				break
			}
			if errors.Is(err, channel.ErrTextMessage) {
				log.Errorf("ignoring text message from capture tool")
				continue
			}
			return r.Packets(), fmt.Errorf("capture tool channel broken: %w", err)
		}
		rec, err := wire.Decode(frame)
		if err != nil {
			r.malformed++
			log.Errorf("ignoring malformed packet record: %s", err.Error())
			continue
		}
		if err := r.Store.AddPacket(rec, store.DescribePacket(rec.Data, store.LinkType)); err != nil {
			return r.Packets(), err
		}
		r.m.Lock()
		r.packets++
		n := r.packets
		r.m.Unlock()
		if n%saveEvery == 0 {
			if err := r.Store.Save(); err != nil {
				return n, err
			}
		}
		if r.Count > 0 && n == r.Count {
			log.Debugf("recorded %d packets, stopping", n)
			r.Stop()
		}
	}
	if r.malformed > 0 {
		log.Errorf("ignored %d malformed packet records", r.malformed)
	}
	return r.Packets(), r.Store.Save()
}
