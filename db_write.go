package s6rc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// ServiceDef describes one service for a Builder
type ServiceDef struct {
	// Name is the service name
	Name string
	// Flags is an opaque bitset copied into the record
	Flags uint32
	// Timeout holds the up and down timeouts in milliseconds
	Timeout [2]uint32
	// Requires lists the names of the services this one depends on
	Requires []string
	// ServiceDir is the service directory name of a longrun
	ServiceDir string
	// Up is the argv run to bring a oneshot up
	Up []string
	// Down is the argv run to bring a oneshot down
	Down []string

	longrun bool
}

// WithRequires adds dependencies on the named services
func (d *ServiceDef) WithRequires(names ...string) *ServiceDef {
	d.Requires = append(d.Requires, names...)
	return d
}

// WithTimeouts sets the up and down timeouts in milliseconds
func (d *ServiceDef) WithTimeouts(up, down uint32) *ServiceDef {
	d.Timeout = [2]uint32{up, down}
	return d
}

// WithFlags sets the record flags
func (d *ServiceDef) WithFlags(flags uint32) *ServiceDef {
	d.Flags = flags
	return d
}

// Builder assembles a Database from service definitions. It is the inverse
// of DecodeDatabase and exists for tooling and tests; the production
// compiler lives elsewhere.
type Builder struct {
	defs []*ServiceDef
}

// NewBuilder creates an empty Builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Longrun adds a longrun service supervised from servicedir
func (b *Builder) Longrun(name, servicedir string) *ServiceDef {
	d := &ServiceDef{Name: name, ServiceDir: servicedir, longrun: true}
	b.defs = append(b.defs, d)
	return d
}

// Oneshot adds a oneshot service with its up and down argvs
func (b *Builder) Oneshot(name string, up, down []string) *ServiceDef {
	d := &ServiceDef{Name: name, Up: up, Down: down}
	b.defs = append(b.defs, d)
	return d
}

// Build lays the services out the way the compiler does: longruns first,
// then oneshots, each in definition order.
func (b *Builder) Build() (*Database, error) {
	var ordered []*ServiceDef
	for _, d := range b.defs {
		if d.longrun {
			ordered = append(ordered, d)
		}
	}
	nlong := len(ordered)
	for _, d := range b.defs {
		if !d.longrun {
			ordered = append(ordered, d)
		}
	}

	index := make(map[string]int, len(ordered))
	for i, d := range ordered {
		if _, dup := index[d.Name]; dup {
			return nil, fmt.Errorf("duplicate service %q", d.Name)
		}
		index[d.Name] = i
	}

	var pool bytes.Buffer
	interned := make(map[string]uint32)
	intern := func(s string) uint32 {
		if off, ok := interned[s]; ok {
			return off
		}
		off := uint32(pool.Len())
		pool.WriteString(s)
		pool.WriteByte(0)
		interned[s] = off
		return off
	}

	forward := make([][]uint32, len(ordered))
	reverse := make([][]uint32, len(ordered))
	for i, d := range ordered {
		for _, dep := range d.Requires {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("service %q requires unknown service %q", d.Name, dep)
			}
			forward[i] = append(forward[i], uint32(j))
			reverse[j] = append(reverse[j], uint32(i))
		}
	}

	services := make([]Service, len(ordered))
	var deps [2][]uint32
	var argvs []string
	for i, d := range ordered {
		sv := &services[i]
		sv.Name = intern(d.Name)
		sv.Flags = d.Flags
		sv.Timeout = d.Timeout
		for k, list := range [2][]uint32{reverse[i], forward[i]} {
			sv.Deps[k] = uint32(len(deps[k]))
			sv.NDeps[k] = uint32(len(list))
			deps[k] = append(deps[k], list...)
		}
		if d.longrun {
			sv.Payload = Longrun{ServiceDir: intern(d.ServiceDir)}
			continue
		}
		var oneshot Oneshot
		for g, argv := range [2][]string{d.Up, d.Down} {
			// argument groups are packed, never interned
			pos := uint32(pool.Len())
			for _, arg := range argv {
				pool.WriteString(arg)
				pool.WriteByte(0)
			}
			oneshot.Argv[g] = ArgvRange{Pos: pos, Off: uint32(len(argvs)), Count: uint32(len(argv))}
			argvs = append(argvs, argv...)
			argvs = append(argvs, "")
		}
		sv.Payload = oneshot
	}

	sz := Sizes{
		NShort:    uint32(len(ordered) - nlong),
		NLong:     uint32(nlong),
		StringLen: uint32(pool.Len()),
		NArgvs:    uint32(len(argvs)),
		NDeps:     uint32(len(deps[0])),
	}
	if err := sz.check(); err != nil {
		return nil, err
	}

	db := &Database{
		Sizes:    sz,
		String:   pool.Bytes(),
		Deps:     append(deps[0], deps[1]...),
		Services: services,
		Argvs:    argvs,
	}
	if db.String == nil {
		db.String = []byte{}
	}
	if db.Deps == nil {
		db.Deps = []uint32{}
	}
	if db.Argvs == nil {
		db.Argvs = []string{}
	}
	return db, nil
}

// EncodeSizes writes the sizes index
func EncodeSizes(w io.Writer, sz Sizes) error {
	var buf [SizesFileSize]byte
	binary.BigEndian.PutUint32(buf[0:4], sz.NShort)
	binary.BigEndian.PutUint32(buf[4:8], sz.NLong)
	binary.BigEndian.PutUint32(buf[8:12], sz.StringLen)
	binary.BigEndian.PutUint32(buf[12:16], sz.NArgvs)
	binary.BigEndian.PutUint32(buf[16:20], sz.NDeps)
	_, err := w.Write(buf[:])
	return err
}

// Encode writes db in the compiled database format
func (db *Database) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	var buf [4]byte
	put := func(x uint32) {
		binary.BigEndian.PutUint32(buf[:], x)
		_, _ = bw.Write(buf[:])
	}

	_, _ = bw.WriteString(BannerStart)
	_, _ = bw.Write(db.String)
	for _, x := range db.Deps {
		put(x)
	}
	for i := range db.Services {
		sv := &db.Services[i]
		for _, x := range []uint32{sv.Name, sv.Flags, sv.Timeout[0], sv.Timeout[1],
			sv.NDeps[0], sv.NDeps[1], sv.Deps[0], sv.Deps[1]} {
			put(x)
		}
		switch p := sv.Payload.(type) {
		case Longrun:
			_ = bw.WriteByte(1)
			put(p.ServiceDir)
		case Oneshot:
			_ = bw.WriteByte(0)
			for _, r := range p.Argv {
				put(r.Count)
				put(r.Pos)
			}
		default:
			return fmt.Errorf("service %d has no payload", i)
		}
		_ = bw.WriteByte(RecordEnd)
	}
	_, _ = bw.WriteString(BannerEnd)
	return bw.Flush()
}

// WriteCompiled atomically writes the database and its sizes index into dir
func WriteCompiled(dir string, db *Database) error {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return &OpError{Op: OpWriteDB, Path: dir, Err: err}
	}

	var body bytes.Buffer
	if err := db.Encode(&body); err != nil {
		return &OpError{Op: OpWriteDB, Path: dir, Err: err}
	}
	dbPath := filepath.Join(dir, DBFile)
	if err := renameio.WriteFile(dbPath, body.Bytes(), FileMode); err != nil {
		return &OpError{Op: OpWriteDB, Path: dbPath, Err: err}
	}

	var sizes bytes.Buffer
	_ = EncodeSizes(&sizes, db.Sizes)
	sizesPath := filepath.Join(dir, SizesFile)
	if err := renameio.WriteFile(sizesPath, sizes.Bytes(), FileMode); err != nil {
		return &OpError{Op: OpWriteDB, Path: sizesPath, Err: err}
	}
	return nil
}
