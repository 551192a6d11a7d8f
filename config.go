package plagindex

import cfgpkg "github.com/oysyn/plagindex/config"

// Config holds all engine-wide, versioned configuration for the
// similarity index. It is an alias of config.Config so that internal
// packages (segment, catalog, compactor, search, queue) can depend on
// the leaf config package directly without importing this root package.
type Config = cfgpkg.Config

// MinHashConfig configures the optional MinHash/LSH capability.
type MinHashConfig = cfgpkg.MinHashConfig

// DefaultConfig returns a Config with the engine's default values.
func DefaultConfig() Config {
	return cfgpkg.Default()
}
