package catalog

import _ "embed"

//go:embed nqip_catalog.json
var nqipSeed []byte

// Default loads the embedded NQIP quarterly catalog.
func Default() (*Catalog, error) {
	return Load(nqipSeed)
}
