// Parley CI/CD
//
// Package main provides reproducible builds and tests locally and in GitHub actions.
// It is the main harness for handling nearly all dev operations.
package main

import (
	"context"

	"dagger/parley/internal/dagger"
)

// Parley is the main module for the Parley CI/CD pipeline
type Parley struct {
	// Project source directory
	//
	// +private
	Source *dagger.Directory
}

// New creates a new Parley CI/CD module instance
func New(
	// Project source directory.
	//
	// +defaultPath="/"
	// +ignore=[".git", ".direnv", ".devenv", "build", "tmp", ".parley"]
	source *dagger.Directory,
) *Parley {
	return &Parley{
		Source: source,
	}
}

// goContainer returns a Debian Bookworm-based Go container with the project
// source mounted and the module caches attached.
//
// It is the shared foundation for tests, builds, and linting.
func (p *Parley) goContainer() *dagger.Container {
	return dag.Container().
		From("golang:1.25-bookworm").
		WithEnvVariable("CGO_ENABLED", "0").
		WithEnvVariable("PATH", "/go/bin:$PATH", dagger.ContainerWithEnvVariableOpts{Expand: true}).
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build")).
		WithWorkdir("/src").
		WithDirectory("/src", p.Source)
}

// Test runs the parley unit tests via "go test" with the race detector on
func (p *Parley) Test(ctx context.Context) (string, error) {
	return p.goContainer().
		WithEnvVariable("CGO_ENABLED", "1").
		WithExec([]string{"go", "test", "-race", "-v", "./..."}).
		Stdout(ctx)
}
