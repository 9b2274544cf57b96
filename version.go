// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package procshark

// SemVersion is the semantic version of the procshark module and its
// binaries.
const SemVersion = "0.3.1"
