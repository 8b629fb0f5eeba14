// Package dataset defines the on-disk shape of an acquired image dataset.
//
// Accepted images are stored one directory per class label and partition:
//
//	{root}/{label}/{partition}/{image_id}{ext}
//	{root}/.staging/{image_id}.tmp    (in-flight downloads only)
//	{root}/metadata.csv               (one row per accepted image)
//	{root}/file_hashes.csv            (one row per accepted image)
//	{root}/security_audit.log         (append-only audit trail)
//	{root}/catalog.db                 (SQLite index)
//
// The package holds the shared data model ([Candidate], [AcceptedAsset],
// [HashRecord], [MetadataRecord]), path resolution through [Layout], and a
// disk [Inventory] used for reporting. It has no dependency on how images
// are fetched or validated.
package dataset
