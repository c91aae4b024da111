package model

import (
	"errors"
)

var (
	// ErrNoSources means extraction or copy produced no source directories.
	ErrNoSources = errors.New("no source directories found")
	// ErrNoLockfile means neither Cargo.lock nor Cargo.toml exists anywhere in the tree.
	ErrNoLockfile = errors.New("no Cargo.lock or Cargo.toml found")
	// ErrLockfileMissing means generation reported success but no lockfile is discoverable.
	ErrLockfileMissing = errors.New("no Cargo.lock found after generation")
)
