package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	cfg := writeConfig(t)
	dir := t.TempDir()

	allowed := writeFile(t, dir, "allowed.yaml", contractYAML)
	out, err := execute(t, "-c", cfg, "check", allowed)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ contract allowed for users")

	out, err = execute(t, "-c", cfg, "--format", "json", "check", allowed)
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, map[string]any{"resource": "users", "allowed": true}, resp.Data)
}

func TestCheck_IgnoresInternalFlag(t *testing.T) {
	cfg := writeConfig(t)
	path := writeFile(t, t.TempDir(), "contract.yaml", `resource: users
contract:
  isInternalRequest: true
  includes:
    - relation: pets
      where: {owner_id: "1"}
`)

	out, err := execute(t, "-c", cfg, "--format", "json", "check", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "FILTER_FIELD_NOT_ALLOWED", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "pets.owner_id")
}

func TestCheck_ResourceOverride(t *testing.T) {
	cfg := writeConfig(t)
	path := writeFile(t, t.TempDir(), "contract.yaml", "contract:\n  where: {name: ann}\n")

	_, err := execute(t, "-c", cfg, "check", "--resource", "users", path)
	require.NoError(t, err)

	out, err := execute(t, "-c", cfg, "check", "-r", "pets", path)
	require.Error(t, err)
	assert.Contains(t, out, "Error [FILTER_FIELD_NOT_ALLOWED]")
}
