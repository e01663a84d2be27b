package s6rc

// Version is the current version of the go-s6rc library
const Version = "0.1.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// Format is the compiled database format read and written
	Format string
	// Rendezvous names the event notification protocol spoken with supervisors
	Rendezvous string
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version:    Version,
		Format:     "s6rc-db",
		Rendezvous: FifoPrefix,
	}
}
