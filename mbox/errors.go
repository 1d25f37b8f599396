package mbox

import "fmt"

// MessageDecodeError reports a single message that could not be decoded. The
// scan continues with the next message.
type MessageDecodeError struct {
	Archive string
	Index   int
	// Offset is the position of the message within the archive's message
	// data, From_ separator lines excluded.
	Offset int64
	Err    error
}

func (e *MessageDecodeError) Error() string {
	return fmt.Sprintf("decode message %d (offset %d) in %s: %v", e.Index, e.Offset, e.Archive, e.Err)
}

func (e *MessageDecodeError) Unwrap() error {
	return e.Err
}

// ArchiveUnreadableError reports an archive that is missing, unreadable or
// not in mbox format. It aborts the run.
type ArchiveUnreadableError struct {
	Path string
	Err  error
}

func (e *ArchiveUnreadableError) Error() string {
	return fmt.Sprintf("archive %s unreadable: %v", e.Path, e.Err)
}

func (e *ArchiveUnreadableError) Unwrap() error {
	return e.Err
}
