// Package config defines configuration structures for the harvest CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (HARVEST_ prefix)
//   - YAML configuration file
//
// Flags override the environment, which overrides the file, which
// overrides Default.
//
// # File format
//
//	output: xray_images
//	labels: [silicosis, healthy]
//	train_fraction: 0.8
//	max_file_size: 50MB
//	max_pixels: 178956970
//	timeout: 10s
//	rate_interval: 500ms
//	scanner: auto
//	mirror:
//	  bucket: s3://datasets?region=us-east-1
//	  prefix: xray
//	sources:
//	  - type: openi
//	    label: healthy
//	    query: normal
//	  - type: gallery
//	    label: silicosis
//	    name: Example Archive
//	    url: https://images.nih.gov/gallery
//	    selector: img.case
package config
