// Package ledger records accepted assets and security events for a dataset.
//
// Three files live at the dataset root:
//
//	file_hashes.csv      one row per committed file: sha256, md5, size, scan status
//	metadata.csv         one row per committed file: provenance and placement
//	security_audit.log   one "[timestamp] text" line per notable event
//
// All three are append-only. Verify re-hashes committed files against the
// hash ledger to detect tampering or partial writes.
package ledger
