// Package auditlog persists the append-only record of identity and version
// changes applied to a corpus.
package auditlog
