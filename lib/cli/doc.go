// Package cli is the go-gnutella command tree.
//
//	go-gnutella decode --hex capture.txt
//	go-gnutella build query --query "free music" --ttl 3
//	go-gnutella inspect ggep c3834b4b40...
//	go-gnutella listen --address :6346
//
// Every command reads its limits from the viper configuration (see package
// config). --config selects a file; otherwise $HOME/.go-gnutella/config.yaml
// is used and created on first run.
package cli
