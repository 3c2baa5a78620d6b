package api

// CurrentVersion is written by tools that generate configuration files.
const CurrentVersion = "v1alpha1"

// Backend names accepted in Config.Backend.
const (
	BackendFileSystem = "file_system"
	BackendSQLite     = "sqlite"
	BackendBIDS       = "bids"
)

// Config describes where a dataset lives and how its tree is laid out.
type Config struct {
	// Version of the configuration schema.
	Version string `json:"version"`
	// Backend is one of "file_system", "sqlite" or "bids".
	Backend string `json:"backend"`
	// BaseDir holds one directory per dataset (file_system, bids).
	BaseDir string `json:"base_dir,omitempty"`
	// Database is the SQLite file (sqlite). Defaults to arbor.db in BaseDir.
	Database string `json:"database,omitempty"`
	// Dataset is the dataset ID: a name below BaseDir or an absolute path.
	Dataset string `json:"dataset"`
	// Space names a built-in frequency space. Ignored when Dimensions is set.
	Space string `json:"space,omitempty"`
	// Dimensions declares a custom frequency space as member name -> bits.
	Dimensions map[string]uint64 `json:"dimensions,omitempty"`
	// Hierarchy lists the storage levels outer to inner. BIDS datasets may
	// leave it empty to detect it from the layout.
	Hierarchy []string `json:"hierarchy,omitempty"`
	// CacheDir is where the sqlite backend materializes file groups.
	CacheDir string `json:"cache_dir,omitempty"`
	// LockTimeout bounds waits for field locks, e.g. "5s". Zero waits forever.
	LockTimeout Duration `json:"lock_timeout,omitempty"`
}
