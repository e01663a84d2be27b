package s6rc

import "bytes"

// validString reports whether off addresses a NUL-terminated string that
// ends inside pool.
func validString(pool []byte, off uint32) bool {
	if uint64(off) >= uint64(len(pool)) {
		return false
	}
	return bytes.IndexByte(pool[off:], 0) >= 0
}

// validStrings reports whether off addresses n valid strings packed back to back.
func validStrings(pool []byte, off uint32, n uint32) bool {
	pos := uint64(off)
	for ; n > 0; n-- {
		if pos >= uint64(len(pool)) {
			return false
		}
		i := bytes.IndexByte(pool[pos:], 0)
		if i < 0 {
			return false
		}
		pos += uint64(i) + 1
	}
	return true
}

// cstring returns the string starting at off, without its terminator.
// off must have passed validString.
func cstring(pool []byte, off uint32) string {
	s := pool[off:]
	return string(s[:bytes.IndexByte(s, 0)])
}
