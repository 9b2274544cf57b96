// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package cli

import (
	"strings"

	"github.com/thediveo/go-plugger/v3"
)

// Examples returns the examples for the named command, as contributed by all
// registered CommandExamples plugins in plugin order. Each plugin's examples
// are separated by an empty line; there is no trailing newline.
func Examples(command string) string {
	texts := []string{}
	for _, examples := range plugger.Group[CommandExamples]().Symbols() {
		if text := strings.TrimRight(examples()[command], "\n"); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n\n")
}
