// Package core provides shared types, the rule contract, and the score
// calculation pipeline.
package core

import "time"

// PackageSnapshot is an immutable view of one published package version.
// It is assembled by a registry client and never mutated by rules.
type PackageSnapshot struct {
	Name        string
	Version     string
	Description string
	Scripts     map[string]string // lifecycle hook name -> command
	Deps        Dependencies
	Dist        DistInfo
	Maintainers []Maintainer
	Repository  string
	License     string
	Deprecated  string
	PublishedAt time.Time
}

// Dependencies holds the four declared dependency kinds, each mapping
// package name to version range.
type Dependencies struct {
	Runtime  map[string]string
	Dev      map[string]string
	Peer     map[string]string
	Optional map[string]string
}

// Kinds returns the four dependency maps in a fixed order.
func (d Dependencies) Kinds() []map[string]string {
	return []map[string]string{d.Runtime, d.Dev, d.Peer, d.Optional}
}

// Count returns the total number of declared dependencies across all kinds.
func (d Dependencies) Count() int {
	n := 0
	for _, m := range d.Kinds() {
		n += len(m)
	}
	return n
}

// DistInfo describes the distribution artifact for a version.
type DistInfo struct {
	Tarball      string
	UnpackedSize int64 // 0 if the registry did not report it
	Integrity    string
	Signed       bool // registry signatures or attestations present
}

// Maintainer represents a package maintainer.
type Maintainer struct {
	Login string
	Email string
}

// VersionHistory maps version strings to snapshots for every published
// version of one package name. It is owned transiently by the rule that
// fetched it and is not cached across evaluations.
type VersionHistory map[string]*PackageSnapshot
