//go:build release

package asyncinit

const diagnostics = false
