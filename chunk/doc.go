// Package chunk splits byte streams and known-size objects into indexed blocks.
//
// Ranges describes an object of known size as contiguous, inclusive byte ranges.
// Read cuts a stream of unknown size into chunks of at most the block size.
// Both return a Sequence: a lazy producer that is pulled by its consumer one value at a time.
// Indices start at 1, matching multipart part numbers.
package chunk
