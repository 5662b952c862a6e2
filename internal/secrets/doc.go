// Package secrets provides regex-based secret detection and redaction.
//
// Fetched and crawled page content passes through a Scrubber before it is
// chunked, embedded, or written into the semantic cache, so credentials
// accidentally exposed on a crawled page don't persist into noeticd's
// stored state. Findings record rule ID, severity, and position only; the
// matched secret value itself is never retained.
package secrets
