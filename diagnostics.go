//go:build !release

package asyncinit

// diagnostics enables the duplicate Unit scan in Build. Compile with -tags release to skip it.
const diagnostics = true
