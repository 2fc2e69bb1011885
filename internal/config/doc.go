// Package config provides loading and environment overlay for orderpipe
// configuration. It exposes a Default() baseline, a JSON file loader, and
// an ORDERPIPE_* environment overlay.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/orderpipe.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
package config
