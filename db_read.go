package s6rc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Open reads the sizes index and the database from the compiled directory dir.
// It returns a Database only if every check passed.
func Open(dir string) (*Database, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, &OpError{Op: OpReadDB, Path: dir, Err: err}
	}
	defer func() { _ = root.Close() }()

	sz, err := ReadSizes(root)
	if err != nil {
		return nil, err
	}

	db := NewDatabase(sz)
	if err := ReadDatabase(root, db); err != nil {
		return nil, err
	}
	return db, nil
}

// ReadSizes decodes the sizes index found in root
func ReadSizes(root *os.Root) (Sizes, error) {
	path := filepath.Join(root.Name(), SizesFile)

	file, err := root.Open(SizesFile)
	if err != nil {
		return Sizes{}, &OpError{Op: OpReadSizes, Path: path, Err: err}
	}
	defer func() { _ = file.Close() }()

	var buf [SizesFileSize + 1]byte
	n, err := io.ReadFull(file, buf[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Sizes{}, &OpError{Op: OpReadSizes, Path: path, Err: err}
	}
	if n < SizesFileSize {
		return Sizes{}, &OpError{Op: OpReadSizes, Path: path, Err: io.ErrUnexpectedEOF}
	}
	if n > SizesFileSize {
		return Sizes{}, &OpError{Op: OpReadSizes, Path: path, Err: formatErr(-1, "sizes length", uint64(n))}
	}

	sz := Sizes{
		NShort:    binary.BigEndian.Uint32(buf[0:4]),
		NLong:     binary.BigEndian.Uint32(buf[4:8]),
		StringLen: binary.BigEndian.Uint32(buf[8:12]),
		NArgvs:    binary.BigEndian.Uint32(buf[12:16]),
		NDeps:     binary.BigEndian.Uint32(buf[16:20]),
	}
	if err := sz.check(); err != nil {
		return Sizes{}, &OpError{Op: OpReadSizes, Path: path, Err: err}
	}
	return sz, nil
}

// ReadDatabase reads the compiled database found in root into db, which must
// have been allocated by NewDatabase with the matching Sizes.
//
// A short read yields an *OpError wrapping io.ErrUnexpectedEOF; a structural
// violation yields an error matching ErrFormat. On any error the contents of
// db are unspecified and must be discarded.
func ReadDatabase(root *os.Root, db *Database) error {
	path := filepath.Join(root.Name(), DBFile)

	file, err := root.Open(DBFile)
	if err != nil {
		return &OpError{Op: OpReadDB, Path: path, Err: err}
	}
	defer func() { _ = file.Close() }()

	if err := DecodeDatabase(file, db); err != nil {
		return &OpError{Op: OpReadDB, Path: path, Err: err}
	}
	return nil
}

// DecodeDatabase decodes a compiled database stream into db
func DecodeDatabase(r io.Reader, db *Database) error {
	if err := db.Sizes.check(); err != nil {
		return err
	}
	if len(db.String) != int(db.StringLen) || len(db.Deps) != 2*int(db.NDeps) ||
		len(db.Services) != int(db.NServices()) || len(db.Argvs) != int(db.NArgvs) {
		return fmt.Errorf("database not allocated for its sizes")
	}
	d := &decoder{r: bufio.NewReader(r), db: db}
	return d.decode()
}

type decoder struct {
	r   *bufio.Reader
	db  *Database
	buf [4]byte
}

func (d *decoder) full(p []byte) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

func (d *decoder) readUint32() (uint32, error) {
	if err := d.full(d.buf[:4]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(d.buf[:4]), nil
}

func (d *decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if errors.Is(err, io.EOF) {
		return 0, io.ErrUnexpectedEOF
	}
	return b, err
}

func (d *decoder) banner(want string, field string) error {
	got := make([]byte, len(want))
	if err := d.full(got); err != nil {
		return err
	}
	if string(got) != want {
		return formatErr(-1, field, 0)
	}
	return nil
}

func (d *decoder) decode() error {
	if err := d.banner(BannerStart, "start banner"); err != nil {
		return err
	}
	if err := d.full(d.db.String); err != nil {
		return err
	}
	if err := d.deps(); err != nil {
		return err
	}
	if err := d.services(); err != nil {
		return err
	}
	return d.banner(BannerEnd, "end banner")
}

func (d *decoder) deps() error {
	n := d.db.NServices()
	for i := range d.db.Deps {
		x, err := d.readUint32()
		if err != nil {
			return err
		}
		if x >= n {
			return formatErr(-1, "dependency", uint64(x))
		}
		d.db.Deps[i] = x
	}
	return nil
}

func (d *decoder) services() error {
	db := d.db
	left := db.NArgvs
	next := uint32(0)

	for i := range db.Services {
		sv := &db.Services[i]
		fields := []*uint32{&sv.Name, &sv.Flags, &sv.Timeout[0], &sv.Timeout[1],
			&sv.NDeps[0], &sv.NDeps[1], &sv.Deps[0], &sv.Deps[1]}
		for j, p := range fields {
			x, err := d.readUint32()
			if err != nil {
				return err
			}
			*p = x
			switch j {
			case 0:
				if !validString(db.String, x) {
					return formatErr(i, "name", uint64(x))
				}
			case 6, 7:
				k := j - 6
				if !db.validRange(sv.Deps[k], sv.NDeps[k]) {
					return formatErr(i, Direction(k).String()+" range", uint64(x))
				}
			}
		}

		typ, err := d.readByte()
		if err != nil {
			return err
		}
		if typ != 0 {
			dir, err := d.readUint32()
			if err != nil {
				return err
			}
			if !validString(db.String, dir) {
				return formatErr(i, "servicedir", uint64(dir))
			}
			sv.Payload = Longrun{ServiceDir: dir}
		} else {
			var oneshot Oneshot
			for g := 0; g < 2; g++ {
				argc, err := d.readUint32()
				if err != nil {
					return err
				}
				if argc > left {
					return formatErr(i, "argc", uint64(argc))
				}
				pos, err := d.readUint32()
				if err != nil {
					return err
				}
				if !validStrings(db.String, pos, argc) {
					return formatErr(i, "argv", uint64(pos))
				}
				p := pos
				for a := next; a < next+argc; a++ {
					db.Argvs[a] = cstring(db.String, p)
					p += uint32(len(db.Argvs[a])) + 1
				}
				oneshot.Argv[g] = ArgvRange{Pos: pos, Off: next, Count: argc}
				next += argc
				left -= argc

				// every group is followed by a terminator slot
				if left == 0 {
					return formatErr(i, "argv terminator", uint64(db.NArgvs))
				}
				db.Argvs[next] = ""
				next++
				left--
			}
			sv.Payload = oneshot
		}

		end, err := d.readByte()
		if err != nil {
			return err
		}
		if end != RecordEnd {
			return formatErr(i, "record end", uint64(end))
		}
	}

	if left != 0 {
		return formatErr(-1, "unused argv slots", uint64(left))
	}
	return nil
}

// validRange reports whether a dependency window fits inside one half of the table
func (db *Database) validRange(off, n uint32) bool {
	return uint64(off) <= uint64(db.NDeps) && uint64(off)+uint64(n) <= uint64(db.NDeps)
}
