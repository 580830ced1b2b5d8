// Package artifact owns every filesystem interaction of a migration run.
//
// Store enumerates artifacts beneath a corpus root, reads them, and replaces
// them through a temporary sibling file that is verified before being renamed
// over the original, so a failed write never leaves a partially written
// artifact behind. RunLock records the single writer of a corpus.
package artifact
