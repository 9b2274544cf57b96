/*
Package scratch provides page-granular, OS-backed scratch memory regions for
holding the results of "list all X" style operating system queries.

A Region only ever grows. Growing a Region throws away its old contents and
invalidates all slices previously obtained from it, so a Region must only be
used for data that the caller completely overwrites right after each Ensure,
typically by re-running the query that sized the Region in the first place.
Never use a Region for data that needs to survive growth.
*/
package scratch
