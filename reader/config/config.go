package config

import (
	clconfig "github.com/metrico/cloki-config"
)

var Cloki *clconfig.ClokiConfig

// SourcesPath is the YAML file with the named sources; empty means none.
var SourcesPath string

// RenderCacheSize is the render response cache size, e.g. "64MB".
var RenderCacheSize = "64MB"
