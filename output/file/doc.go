// Package file records beats to {directory}/{file_prefix}.jsonl, one JSON
// BeatEvent per line, for offline review of a session. Lines are buffered
// and flushed when buffer_size lines are pending, every flush_interval, and
// on Stop.
package file
