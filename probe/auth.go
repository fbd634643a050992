// Copyright 2024 The chaos-utils Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
)

const (
	envAccessToken = "GCP_ACCESS_TOKEN"
	envTokenFile   = "GCP_TOKEN_FILE"
	envCredentials = "GOOGLE_APPLICATION_CREDENTIALS"

	monitoringReadScope = "https://www.googleapis.com/auth/monitoring.read"
)

// ErrNoToken is returned when every token source comes up empty.
var ErrNoToken = errors.New("no usable access token from any source")

// ResolveToken produces the bearer token for the API request. Sources are
// tried in strict precedence, first non-empty wins:
//
//  1. GCP_ACCESS_TOKEN environment variable
//  2. --token flag
//  3. file named by the GCP_TOKEN_FILE environment variable
//  4. file named by the --token-file flag
//  5. service-account key file named by GOOGLE_APPLICATION_CREDENTIALS
//  6. application-default credentials
//
// A token file that fails its permission check aborts resolution; it does
// not fall through to the next source.
func ResolveToken(ctx context.Context, cfg *Config) (Secret, error) {
	if t := strings.TrimSpace(os.Getenv(envAccessToken)); t != "" {
		return Secret(t), nil
	}
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	if path := os.Getenv(envTokenFile); path != "" {
		return readTokenFile(path)
	}
	if cfg.TokenFile != "" {
		return readTokenFile(cfg.TokenFile)
	}
	if keyFile := os.Getenv(envCredentials); keyFile != "" {
		return serviceAccountToken(ctx, keyFile)
	}
	return defaultToken(ctx)
}

// readTokenFile loads a token from path. The file must be a regular file
// readable only by its owner; anything group- or world-accessible is
// rejected outright.
func readTokenFile(path string) (Secret, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("unable to read token file %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("token file %s is not a regular file", path)
	}
	if mode := fi.Mode().Perm(); mode&0o077 != 0 {
		return "", fmt.Errorf("token file %s has mode %04o, want 0600 or stricter", path, mode)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("unable to read token file %s: %w", path, err)
	}
	t := strings.TrimSpace(string(b))
	if t == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return Secret(t), nil
}

// serviceAccountToken exchanges a service-account key file for a
// short-lived access token scoped to monitoring reads.
func serviceAccountToken(ctx context.Context, keyFile string) (Secret, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return "", fmt.Errorf("unable to read service account key %s: %w", keyFile, err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, monitoringReadScope)
	if err != nil {
		return "", fmt.Errorf("invalid service account key %s: %w", keyFile, err)
	}
	tok, err := creds.TokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("service account token exchange failed: %w", err)
	}
	return Secret(tok.AccessToken), nil
}

// defaultToken falls back to the ambient application-default credentials.
func defaultToken(ctx context.Context) (Secret, error) {
	ts, err := google.DefaultTokenSource(ctx, monitoringReadScope)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoToken, err)
	}
	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoToken, err)
	}
	if tok.AccessToken == "" {
		return "", ErrNoToken
	}
	return Secret(tok.AccessToken), nil
}
