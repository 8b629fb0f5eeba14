// Package progress prints human-readable progress for a harvest run.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{Output: os.Stderr})
//	reporter.Begin("OpenI (NIH)", "healthy", 10)
//	reporter.Accepted("healthy/train/openi_nih_healthy_1a2b3c4d5e6f.jpg", 48213)
//	reporter.Rejected("https://openi.nlm.nih.gov/imgs/x/large.jpg", "rejected at signature stage")
//	reporter.Finish()
//
// # Output Format
//
//	[harvest] Scraping OpenI (NIH) for "healthy" (limit 10)
//	[harvest] ✓ healthy/train/openi_nih_healthy_1a2b3c4d5e6f.jpg (47.08 KB)
//	[harvest] ✗ https://openi.nlm.nih.gov/imgs/x/large.jpg: rejected at signature stage
//	[harvest] Done: 1 accepted (47.08 KB) | 1 rejected | 3s
package progress
