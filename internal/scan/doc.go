// Package scan wraps external malware scanners.
//
// No detection logic lives here. Each Scanner shells out to a platform
// engine and maps its exit status onto a Verdict.
package scan
