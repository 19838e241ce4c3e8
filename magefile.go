//go:build mage
// +build mage

package main

import (
	"fmt"
	"path"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	BINARY_DIR  = "bin"
	BINARY_NAME = "stagedelight"
	MAIN_PKG    = "./cmd/stagedelight"
)

// Tidy syncs go.mod with the imports.
func Tidy() error {
	return sh.RunV("go", "mod", "tidy")
}

// Lint runs go vet over every package.
func Lint() error {
	return sh.RunV("go", "vet", "./...")
}

// Test runs the test suite with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// Build compiles the server into bin/.
func Build() error {
	mg.Deps(Lint)
	output := path.Join(BINARY_DIR, BINARY_NAME)
	fmt.Printf("[Go] Build %s\n", output)
	return sh.RunWithV(map[string]string{"CGO_ENABLED": "0"}, "go", "build", "-o", output, MAIN_PKG)
}

// Run starts the server with the local .env, if any.
func Run() error {
	mg.Deps(Build)
	return sh.RunV(path.Join(BINARY_DIR, BINARY_NAME))
}
