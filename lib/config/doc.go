// Package config loads the codec settings: payload and query size limits,
// the TTL+hops budget, the locale advertised in pings and pongs and the
// addresses the listen command binds.
//
// Settings come from viper. Defaults are registered first, then
// $HOME/.go-gnutella/config.yaml is read, or created from the defaults when it
// does not exist. A file given with --config must exist.
//
//	config.InitConfig()
//	cfg := config.CurrentConfig()
package config
