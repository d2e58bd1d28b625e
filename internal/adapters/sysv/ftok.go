//go:build linux

package sysv

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Ftok derives a System V IPC key from path and id the way glibc does.
func Ftok(path string, id int) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return -1, fmt.Errorf("ftok %s: %w", path, err)
	}
	key := uint32(st.Ino&0xffff) | uint32(st.Dev&0xff)<<16 | uint32(id&0xff)<<24
	return int(int32(key)), nil
}
