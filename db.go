package s6rc

import "fmt"

// Sizes holds the counts a compiled database is allocated from. They come
// from the sizes index written next to the database.
type Sizes struct {
	// NShort is the number of oneshot services
	NShort uint32
	// NLong is the number of longrun services
	NLong uint32
	// StringLen is the size of the string pool in bytes
	StringLen uint32
	// NArgvs is the number of argv slots, including one terminator per argument group
	NArgvs uint32
	// NDeps is the size of each half of the dependency table
	NDeps uint32
}

// NServices returns the total number of service records
func (s Sizes) NServices() uint32 {
	return s.NShort + s.NLong
}

func (s Sizes) check() error {
	switch {
	case uint64(s.NShort)+uint64(s.NLong) > MaxServices:
		return formatErr(-1, "nservices", uint64(s.NShort)+uint64(s.NLong))
	case s.StringLen > MaxStringLen:
		return formatErr(-1, "stringlen", uint64(s.StringLen))
	case s.NDeps > MaxDeps:
		return formatErr(-1, "ndeps", uint64(s.NDeps))
	case s.NArgvs > MaxArgvs:
		return formatErr(-1, "nargvs", uint64(s.NArgvs))
	}
	return nil
}

// Direction selects one half of the dependency table
type Direction int

const (
	// Reverse selects the services that depend on a service
	Reverse Direction = 0
	// Forward selects the services a service depends on
	Forward Direction = 1
)

// String returns the string representation of a Direction
func (d Direction) String() string {
	if d == Reverse {
		return "required-by"
	}
	return "requires"
}

// Payload is the type-specific part of a service record.
// It is either Longrun or Oneshot.
type Payload interface {
	isPayload()
}

// Longrun is the payload of a continuously supervised service
type Longrun struct {
	// ServiceDir is the string pool offset of the service directory name
	ServiceDir uint32
}

// ArgvRange locates one argument group
type ArgvRange struct {
	// Pos is the string pool offset of the first argument
	Pos uint32
	// Off is the index of the first slot in the argv arena
	Off uint32
	// Count is the number of arguments
	Count uint32
}

// Oneshot is the payload of a one-time up/down command pair
type Oneshot struct {
	// Argv holds the up (0) and down (1) argument groups
	Argv [2]ArgvRange
}

func (Longrun) isPayload() {}
func (Oneshot) isPayload() {}

// Args returns argument group i (0 up, 1 down) as a view into the argv arena
func (o Oneshot) Args(db *Database, i int) []string {
	r := o.Argv[i]
	return db.Argvs[r.Off : r.Off+r.Count : r.Off+r.Count]
}

// Service is one decoded service record
type Service struct {
	// Name is the string pool offset of the service name
	Name uint32
	// Flags is an opaque bitset
	Flags uint32
	// Timeout holds the up (0) and down (1) timeouts in milliseconds
	Timeout [2]uint32
	// NDeps holds the reverse and forward dependency counts
	NDeps [2]uint32
	// Deps holds the reverse and forward offsets into their half of the dependency table
	Deps [2]uint32
	// Payload is a Longrun or a Oneshot
	Payload Payload
}

// IsLongrun reports whether the service is a longrun
func (sv *Service) IsLongrun() bool {
	_, ok := sv.Payload.(Longrun)
	return ok
}

// Database is a validated in-memory service dependency graph.
// Every offset it contains has been checked against its arena.
type Database struct {
	Sizes

	// String is the string pool
	String []byte
	// Deps is the dependency table: the reverse half followed by the forward half
	Deps []uint32
	// Services holds NShort+NLong records
	Services []Service
	// Argvs is the argv arena shared by all oneshots
	Argvs []string
}

// NewDatabase allocates a Database sized for sz
func NewDatabase(sz Sizes) *Database {
	return &Database{
		Sizes:    sz,
		String:   make([]byte, sz.StringLen),
		Deps:     make([]uint32, 2*uint64(sz.NDeps)),
		Services: make([]Service, sz.NServices()),
		Argvs:    make([]string, sz.NArgvs),
	}
}

// StringAt returns the string at pool offset off
func (db *Database) StringAt(off uint32) string {
	return cstring(db.String, off)
}

// Name returns the name of service i
func (db *Database) Name(i int) string {
	return db.StringAt(db.Services[i].Name)
}

// Lookup returns the index of the service called name
func (db *Database) Lookup(name string) (int, bool) {
	for i := range db.Services {
		if db.Name(i) == name {
			return i, true
		}
	}
	return -1, false
}

// Dependencies returns the service indices linked to service i in direction d,
// as a view into the dependency table.
func (db *Database) Dependencies(i int, d Direction) []uint32 {
	sv := &db.Services[i]
	base := uint32(0)
	if d == Forward {
		base = db.NDeps
	}
	lo := base + sv.Deps[d]
	hi := lo + sv.NDeps[d]
	return db.Deps[lo:hi:hi]
}

// ServiceDir returns the service directory name of a longrun
func (db *Database) ServiceDir(i int) (string, error) {
	lr, ok := db.Services[i].Payload.(Longrun)
	if !ok {
		return "", fmt.Errorf("service %s is not a longrun", db.Name(i))
	}
	return db.StringAt(lr.ServiceDir), nil
}
