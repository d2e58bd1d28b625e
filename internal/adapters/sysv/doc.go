// Package sysv attaches to a producer channel made of one System V shared
// memory segment and a set of three semaphores.
//
// The producer fills the segment with one NUL-terminated message, raises
// BOARDBUSY and GOCLIENT by the number of registered readers, and waits for
// BOARDBUSY to drop back to zero. A reader:
//
//   - registers by incrementing CLIENTCOUNT with SEM_UNDO,
//   - waits on GOCLIENT (decrement),
//   - copies the message out before anything else,
//   - waits for GOCLIENT to reach zero so every co-reader has its copy,
//   - decrements BOARDBUSY to tell the producer it is done.
//
// Both segment and semaphores are keyed by ftok(ipc home, channel id).
package sysv
