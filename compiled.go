package s6rc

import (
	"path/filepath"

	"github.com/google/renameio/v2"
)

// SwitchCompiled atomically points live/compiled at the compiled directory
// dir and returns the database found there. A relative dir is taken relative
// to live, like any symlink target. The database is validated before the
// link is touched, so the link never points at a corrupt database.
func SwitchCompiled(live, dir string) (*Database, error) {
	target, _ := SanitizeDir(dir)

	db, err := Open(resolveCompiled(live, target))
	if err != nil {
		return nil, err
	}

	link := filepath.Join(live, CompiledLink)
	if err := renameio.Symlink(target, link); err != nil {
		return nil, &OpError{Op: OpLink, Path: link, Err: err}
	}
	return db, nil
}

// resolveCompiled returns the path a compiled link target names, relative
// targets being taken from the live directory holding the link
func resolveCompiled(live, target string) string {
	if filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(live, target)
}
