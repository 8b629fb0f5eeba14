// Package mirror publishes accepted assets and ledgers to object storage.
//
// Any gocloud.dev/blob bucket works. Each asset is written under
// <prefix>/<label>/<partition>/<file> with its sha256 stored as object
// metadata, and uploads whose bytes do not match the recorded hash are
// discarded. Ledger copies go to <prefix>/ledgers/.
package mirror
