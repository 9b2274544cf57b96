/*
Package store persists attributed packet records for later inspection.

A Store keeps its index in an SQLite database: packets keyed by their message
ID, the applications packets were attributed to, and per-packet metadata. The
raw packet octets are appended to a chunked buffer instead, so that the
payload of long-running captures never gets copied around when growing. The
index references payload by byte offset into this buffer. Save persists the
buffer's chunks into the database, so that a later Open finds all payload
again.

Database and payload buffer are guarded by separate locks, each held only for
a single record.
*/
package store
