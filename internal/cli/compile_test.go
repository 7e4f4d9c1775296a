package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contractYAML = `resource: users
contract:
  where:
    name: "ann,bob"
  orderBy:
    name: desc
  includes:
    - relation: pets
`

func compileData(t *testing.T, args ...string) map[string]any {
	t.Helper()
	out, err := execute(t, args...)
	require.NoError(t, err, out)
	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	return data
}

func TestCompile_SQLite(t *testing.T) {
	cfg := writeConfig(t)
	contract := writeFile(t, t.TempDir(), "contract.yaml", contractYAML)

	data := compileData(t, "--config", cfg, "--format", "json", "compile", contract)
	assert.Equal(t, "users", data["resource"])
	assert.Equal(t, TargetSQLite, data["target"])
	assert.Len(t, data["fingerprint"], 64)
	plan := data["plan"].(map[string]any)
	assert.Equal(t, "USERS", plan["alias"], "SQL aliases are upper-cased")

	native := data["native"].(map[string]any)
	sel := native["select"].(map[string]any)
	assert.Contains(t, sel["SQL"], "LEFT JOIN")
	assert.Contains(t, sel["SQL"], "IN (?, ?)")
	assert.Equal(t, []any{"ann", "bob"}, sel["Args"])
	assert.NotContains(t, native, "page")

	count := native["count"].(map[string]any)
	assert.Contains(t, count["SQL"], "COUNT")
}

func TestCompile_PaginatedPostgres(t *testing.T) {
	cfg := writeConfig(t)
	contract := writeFile(t, t.TempDir(), "contract.yaml", contractYAML+"pagination: {page: 2, limit: 5}\n")

	data := compileData(t, "-c", cfg, "--format", "json", "compile", "--target", TargetPostgres, contract)
	native := data["native"].(map[string]any)

	sel := native["select"].(map[string]any)
	assert.Contains(t, sel["SQL"], "IN ($1, $2)")

	page := native["page"].(map[string]any)
	assert.Contains(t, page["SQL"], "LIMIT $3 OFFSET $4")
	assert.Equal(t, []any{"ann", "bob", float64(5), float64(10)}, page["Args"])
}

func TestCompile_Mongo(t *testing.T) {
	cfg := writeConfig(t)
	contract := writeFile(t, t.TempDir(), "contract.yaml", contractYAML)

	data := compileData(t, "-c", cfg, "--format", "json", "compile", "-t", TargetMongo, contract)
	assert.Equal(t, "users", data["plan"].(map[string]any)["alias"])
	native := data["native"].(map[string]any)
	pipeline, ok := native["pipeline"].([]any)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(pipeline), 3)
	assert.Contains(t, pipeline[0], "$match")
	assert.Contains(t, pipeline[1], "$sort")
	assert.Contains(t, pipeline[2], "$lookup")
}

func TestCompile_Schema(t *testing.T) {
	cfg := writeConfig(t)
	contract := writeFile(t, t.TempDir(), "contract.yaml", contractYAML+"pagination: {page: 1, limit: 2}\n")

	data := compileData(t, "-c", cfg, "--format", "json", "compile", "-t", TargetSchema, contract)
	native := data["native"].(map[string]any)
	assert.Equal(t, map[string]any{"name": map[string]any{"in": []any{"ann", "bob"}}}, native["where"])
	assert.Equal(t, map[string]any{"pets": true}, native["include"])
	assert.Equal(t, float64(2), native["skip"])
	assert.Equal(t, float64(2), native["take"])
}

func TestCompile_OutputFile(t *testing.T) {
	cfg := writeConfig(t)
	dir := t.TempDir()
	contract := writeFile(t, dir, "contract.yaml", contractYAML)
	target := filepath.Join(dir, "out.json")

	out, err := execute(t, "-c", cfg, "compile", "-o", target, contract)
	require.NoError(t, err)
	assert.Contains(t, out, `"fingerprint"`)

	raw, err := os.ReadFile(target)
	require.NoError(t, err)
	var result CompilationResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "users", result.Resource)
}

func TestCompile_Errors(t *testing.T) {
	cfg := writeConfig(t)
	dir := t.TempDir()

	tests := []struct {
		name     string
		contract string
		args     []string
		code     string
		exit     int
	}{
		{
			name:     "external filter outside whitelist",
			contract: "resource: users\ncontract: {isInternalRequest: false, where: {deletedAt: \"null\"}}\n",
			code:     "FILTER_FIELD_NOT_ALLOWED",
			exit:     ExitFailure,
		},
		{
			name:     "external include outside whitelist",
			contract: "resource: pets\ncontract: {isInternalRequest: false, includes: [{relation: owner}]}\n",
			code:     "INCLUDE_NOT_ALLOWED",
			exit:     ExitFailure,
		},
		{
			name:     "bad direction",
			contract: "resource: users\ncontract: {orderBy: {name: sideways}}\n",
			code:     "INVALID_ORDER_DIRECTION",
			exit:     ExitFailure,
		},
		{
			name:     "unknown resource",
			contract: "resource: toys\ncontract: {}\n",
			code:     ErrCodeUnknownResource,
			exit:     ExitCommandError,
		},
		{
			name:     "no resource",
			contract: "contract: {}\n",
			code:     ErrCodeUnknownResource,
			exit:     ExitCommandError,
		},
		{
			name:     "unknown target",
			contract: "resource: users\n",
			args:     []string{"-t", "redis"},
			code:     ErrCodeGeneric,
			exit:     ExitFailure,
		},
		{
			name:     "malformed file",
			contract: "resource: [users\n",
			code:     ErrCodeParseFailed,
			exit:     ExitCommandError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "contract.yaml", tt.contract)
			args := append([]string{"-c", cfg, "--format", "json", "compile"}, tt.args...)
			out, err := execute(t, append(args, path)...)
			require.Error(t, err)
			assert.Equal(t, tt.exit, GetExitCode(err))

			resp := decodeResponse(t, out)
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestCompile_MissingFiles(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "-c", cfg, "compile", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeNotFound+"]")

	contract := writeFile(t, t.TempDir(), "contract.yaml", contractYAML)
	out, err = execute(t, "-c", filepath.Join(t.TempDir(), "missing.yaml"), "compile", contract)
	require.Error(t, err)
	assert.Contains(t, out, "Error ["+ErrCodeConfigInvalid+"]")
}
