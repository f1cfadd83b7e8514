package main

import (
	"context"
	"fmt"
	"path"
	"strings"

	"dagger/parley/internal/dagger"
)

// bucketCreds addresses an S3-compatible release bucket.
type bucketCreds struct {
	endpoint        *dagger.Secret
	name            *dagger.Secret
	accessKeyId     *dagger.Secret
	secretAccessKey *dagger.Secret
}

// Package builds versioned binaries and packs each platform into
// parley_<version>_<os>_<arch>.tar.gz next to a checksums.txt
func (p *Parley) Package(
	ctx context.Context,

	// Version string (e.g., "v1.0.0")
	version string,

	// Git commit SHA
	commit string,
) *dagger.Directory {
	script := []string{"set -e", "mkdir -p /dist"}
	for _, goos := range []string{"linux", "darwin"} {
		for _, goarch := range []string{"amd64", "arm64"} {
			archive := fmt.Sprintf("parley_%s_%s_%s.tar.gz", strings.TrimPrefix(version, "v"), goos, goarch)
			script = append(script, fmt.Sprintf("tar -C /bin-in/%s/%s -czf /dist/%s parley", goos, goarch, archive))
		}
	}
	script = append(script, "cd /dist && sha256sum *.tar.gz > checksums.txt")

	return dag.Container().
		From("alpine:3.21").
		WithDirectory("/bin-in", p.BuildRelease(ctx, version, commit)).
		WithExec([]string{"sh", "-c", strings.Join(script, "\n")}).
		Directory("/dist")
}

// Release packages parley and uploads the archives to the bucket under
// parley/<version>
func (p *Parley) Release(
	ctx context.Context,

	// Version string (e.g., "v1.0.0")
	version string,

	// Git commit SHA
	commit string,

	// Bucket endpoint URL
	endpoint *dagger.Secret,

	// Bucket name
	bucket *dagger.Secret,

	// Bucket access key ID
	accessKeyId *dagger.Secret,

	// Bucket secret access key
	secretAccessKey *dagger.Secret,
) (*dagger.Directory, error) {
	if !strings.HasPrefix(version, "v") {
		return nil, fmt.Errorf("release version must look like v1.2.3, got %q", version)
	}

	dist := p.Package(ctx, version, commit)
	creds := &bucketCreds{
		endpoint:        endpoint,
		name:            bucket,
		accessKeyId:     accessKeyId,
		secretAccessKey: secretAccessKey,
	}
	if err := p.upload(ctx, dist, path.Join("parley", version), creds); err != nil {
		return dist, fmt.Errorf("uploading %s: %w", version, err)
	}
	return dist, nil
}

func (p *Parley) upload(ctx context.Context, dist *dagger.Directory, prefix string, creds *bucketCreds) error {
	bucketName, err := creds.name.Plaintext(ctx)
	if err != nil {
		return fmt.Errorf("reading bucket name: %w", err)
	}
	endpointURL, err := creds.endpoint.Plaintext(ctx)
	if err != nil {
		return fmt.Errorf("reading bucket endpoint: %w", err)
	}

	_, err = dag.Container().
		From("amazon/aws-cli:latest").
		WithSecretVariable("AWS_ACCESS_KEY_ID", creds.accessKeyId).
		WithSecretVariable("AWS_SECRET_ACCESS_KEY", creds.secretAccessKey).
		WithEnvVariable("AWS_DEFAULT_REGION", "auto").
		WithDirectory("/dist", dist).
		WithWorkdir("/dist").
		WithExec([]string{
			"aws", "s3", "cp", ".",
			"s3://" + path.Join(bucketName, prefix),
			"--recursive",
			"--endpoint-url", endpointURL,
		}).
		Sync(ctx)
	return err
}
