// Package s6rc reads compiled s6-rc service databases and keeps the live
// supervision tree in sync with the compiled service directories.
//
// # Compiled databases
//
// A compiled directory holds two files: the sizes index n and the database
// db. Open reads both and returns a Database only when every offset, range
// and count in it has been validated:
//
//	db, err := s6rc.Open("/etc/s6-rc/compiled")
//	if s6rc.IsFormat(err) {
//	    // corrupt or mismatched database: recompile
//	}
//
//	for i := range db.Services {
//	    fmt.Println(db.Name(i), db.Dependencies(i, s6rc.Forward))
//	}
//
// The Database keeps the layout of the file: one string pool, one
// dependency table and one argv arena, with every service holding offsets
// into them. Accessors such as Dependencies and Oneshot.Args return views,
// not copies.
//
// # Live directories
//
// A Reconciler links every directory of live/servicedirs into live/scandir,
// creating a down file and an event fifodir for each servicedir that has no
// supervisor yet, then asks the scanner to rescan and waits until every new
// supervisor has reported in:
//
//	r, _ := s6rc.NewReconciler("/run/s6-rc")
//	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
//	defer cancel()
//	result, err := r.Reconcile(ctx)
//
// ResultPartial means no scanner was listening; the filesystem is already
// up to date and Reconcile can simply be run again later.
//
// SwitchCompiled moves live/compiled to a freshly compiled directory, and
// WatchCompiled reports every database the link comes to point at.
package s6rc
