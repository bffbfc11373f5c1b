// Package config loads the cluster sizing configuration file and builds
// validated deployment specs from CLI inputs.
//
// The sizing file is YAML with a defaults block and optional
// per-environment overrides:
//
//	defaults:
//	  nodeCount: 2
//	  machineType: standard-2
//	  diskGB: 50
//	environments:
//	  production:
//	    nodeCount: 6
//	    machineType: standard-8
//	    diskGB: 200
//
// BuildSpec merges flags and the resolved sizing profile, then validates
// the result. Invalid specs are rejected before any reconciliation starts.
package config
