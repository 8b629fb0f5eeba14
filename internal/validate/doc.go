// Package validate decides whether a staged download may enter the dataset.
//
// A Pipeline runs fixed stages over a file on disk:
//
//  1. size: non-empty and under the ceiling
//  2. signature: leading bytes match a known raster format and
//     h2non/filetype agrees
//  3. disallowed-format: DICOM files are rejected even when they carry a
//     raster preamble
//  4. structure: the whole image decodes as the format its signature claims
//  5. malware-scan: an external scanner must not flag the file
//
// Files that pass are re-encoded to strip metadata. A scrub failure is
// reported in the Result and never rejects the file.
package validate
