package platform

import (
	"context"
	"fmt"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
	"github.com/spf13/afero"
)

// CloudPlatformScope covers Vertex AI and Cloud Storage.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// DefaultCredentialsFile is tried when GOOGLE_APPLICATION_CREDENTIALS is unset.
const DefaultCredentialsFile = "credentials.json"

// CredentialsProvider supplies credentials to the platform clients.
type CredentialsProvider interface {
	Credentials(ctx context.Context) (*auth.Credentials, error)
}

// DefaultCredentials uses Application Default Credentials.
type DefaultCredentials struct{}

func (DefaultCredentials) Credentials(ctx context.Context) (*auth.Credentials, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes: []string{CloudPlatformScope},
	})
	if err != nil {
		return nil, fmt.Errorf("platform: failed to detect default credentials: %w", err)
	}
	return creds, nil
}

func (DefaultCredentials) String() string { return "application default credentials" }

// FileCredentials loads a service account (or other JSON credentials) file.
type FileCredentials struct {
	Path string
}

func (f FileCredentials) Credentials(ctx context.Context) (*auth.Credentials, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes:          []string{CloudPlatformScope},
		CredentialsFile: f.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("platform: failed to load credentials from %s: %w", f.Path, err)
	}
	return creds, nil
}

func (f FileCredentials) String() string { return "credentials file " + f.Path }

// CredentialsFromEnv picks a provider the way the deploy scripts always have:
// the file named by GOOGLE_APPLICATION_CREDENTIALS (or credentials.json) if it
// exists, Application Default Credentials otherwise.
func CredentialsFromEnv(getenv func(string) string, fsys afero.Fs) CredentialsProvider {
	path := getenv("GOOGLE_APPLICATION_CREDENTIALS")
	if path == "" {
		path = DefaultCredentialsFile
	}
	if ok, err := afero.Exists(fsys, path); err == nil && ok {
		return FileCredentials{Path: path}
	}
	return DefaultCredentials{}
}
