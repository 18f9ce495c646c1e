// Package tail follows an event log file that a separate writer appends
// to and rotates.
//
// A Tailer moves through these states:
//
//	Starting -> [WaitingForFile] -> Streaming <-> EOFIdle -> Terminated
//
// WaitingForFile is entered only when the first open finds no file;
// while waiting it polls for the path to exist. Once the file is open it
// tracks the file identity and a byte offset, and every poll re-stats
// the path. A different identity means the writer renamed the file away
// and started a new one: the old handle is read to its end, then the new
// file is read from offset zero. A size smaller than the offset means the
// file was truncated in place and reading restarts at zero.
//
// Only newline-terminated lines are consumed. A partial trailing line is
// left in place until the writer finishes it.
//
// Detection is by polling, so a replacement file that grows past the old
// offset between two polls under the same identity check is
// indistinguishable from ordinary growth on filesystems that reuse
// identities. Writers in this module never do that.
package tail
