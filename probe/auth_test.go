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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearAuthEnv neutralizes ambient credentials so precedence tests only
// see what they set themselves.
func clearAuthEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envAccessToken, "")
	t.Setenv(envTokenFile, "")
	t.Setenv(envCredentials, "")
}

func writeTokenFile(t *testing.T, token string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bearer.token")
	require.NoError(t, os.WriteFile(path, []byte(token+"\n"), mode))
	// Umask may have stripped bits at creation; force the exact mode.
	require.NoError(t, os.Chmod(path, mode))
	return path
}

func TestTokenEnvBeatsFlag(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv(envAccessToken, "env-token")

	tok, err := ResolveToken(context.Background(), &Config{Token: "flag-token"})
	require.NoError(t, err)
	assert.Equal(t, Secret("env-token"), tok)
}

func TestTokenEnvBeatsFileEnv(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv(envAccessToken, "env-token")
	t.Setenv(envTokenFile, filepath.Join(t.TempDir(), "does-not-exist"))

	tok, err := ResolveToken(context.Background(), &Config{})
	require.NoError(t, err)
	assert.Equal(t, Secret("env-token"), tok)
}

func TestTokenFlagBeatsFileSources(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv(envTokenFile, filepath.Join(t.TempDir(), "does-not-exist"))

	tok, err := ResolveToken(context.Background(), &Config{Token: "flag-token"})
	require.NoError(t, err)
	assert.Equal(t, Secret("flag-token"), tok)
}

func TestTokenFileEnvBeatsFlagFile(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv(envTokenFile, writeTokenFile(t, "from-env-file", 0o600))

	tok, err := ResolveToken(context.Background(), &Config{
		TokenFile: writeTokenFile(t, "from-flag-file", 0o600),
	})
	require.NoError(t, err)
	assert.Equal(t, Secret("from-env-file"), tok)
}

func TestTokenFileContentTrimmed(t *testing.T) {
	clearAuthEnv(t)

	tok, err := ResolveToken(context.Background(), &Config{
		TokenFile: writeTokenFile(t, "  padded-token  ", 0o600),
	})
	require.NoError(t, err)
	assert.Equal(t, Secret("padded-token"), tok)
}

func TestTokenFilePermissionsRejected(t *testing.T) {
	clearAuthEnv(t)

	for _, mode := range []os.FileMode{0o644, 0o640, 0o604, 0o660} {
		_, err := ResolveToken(context.Background(), &Config{
			TokenFile: writeTokenFile(t, "valid-token", mode),
		})
		require.Error(t, err, "mode %04o should be rejected", mode)
		assert.Contains(t, err.Error(), "0600")
	}
}

func TestTokenFilePermissionFailureDoesNotFallThrough(t *testing.T) {
	clearAuthEnv(t)
	// The loose file sits ahead of a perfectly valid flag file; resolution
	// must abort rather than fall through.
	t.Setenv(envTokenFile, writeTokenFile(t, "valid-token", 0o644))

	_, err := ResolveToken(context.Background(), &Config{
		TokenFile: writeTokenFile(t, "valid-token", 0o600),
	})
	require.Error(t, err)
}

func TestTokenFileMissing(t *testing.T) {
	clearAuthEnv(t)

	_, err := ResolveToken(context.Background(), &Config{
		TokenFile: filepath.Join(t.TempDir(), "does-not-exist"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token file")
}

func TestTokenFileEmpty(t *testing.T) {
	clearAuthEnv(t)

	_, err := ResolveToken(context.Background(), &Config{
		TokenFile: writeTokenFile(t, "", 0o600),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}
