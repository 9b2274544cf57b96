// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package record

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("record command", func() {

	It("passes the capture options on to the capture tool", func() {
		Expect(toolArgs(toolOptions{
			Interfaces: []string{"lo", "eth0"},
			Filter:     "tcp port 80",
			SnapLen:    1500,
			Table:      "psutil",
			Debug:      true,
		}, "unix:/run/foo.sock")).To(Equal([]string{
			"--interface", "lo", "--interface", "eth0",
			"--filter", "tcp port 80",
			"--snaplen", "1500",
			"--table", "psutil",
			"--debug",
			"--", "unix:/run/foo.sock",
		}))
		Expect(toolArgs(toolOptions{Interfaces: []string{"lo"}}, "foo")).To(Equal([]string{
			"--interface", "lo", "--", "foo",
		}))
	})

	It("uses an explicitly specified capture tool", func() {
		Expect(findCaptureTool("/opt/bin/capture")).To(Equal("/opt/bin/capture"))
	})

	It("provides examples", func() {
		Expect(RecordExamples()).To(HaveKey("record"))
		Expect(RecordExamples()).To(HaveKey("list"))
	})

})
