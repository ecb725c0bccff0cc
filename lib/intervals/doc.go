// Package intervals holds sets of byte ranges and the hash-tree range
// encoding used to advertise the available parts of a partial file.
//
// The file is split into 1KiB chunks that form the leaves of a binary tree.
// The root has id 1 and node i has children 2i and 2i+1. A set of chunks is
// described by the smallest list of node ids whose subtrees it covers
// exactly. Ids are grouped by the number of bytes they need and written
// big-endian under the keys PR1 to PR4. An empty set is written as the flag
// PR0.
package intervals
