package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ogcr-registry/internal/auth"
	"ogcr-registry/internal/infrastructure/database"
	"ogcr-registry/internal/pkg/canonical"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const pddDoc = `{
  "type": "Feature",
  "ogcr_version": "1.0.0",
  "profile": "pdd",
  "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]},
  "properties": {
    "name": "Mangrove Belt",
    "project_type": "blue_carbon",
    "actor_id": "actor-1",
    "methodology": {"id": "OGCR-BC-001", "version": "1.2"}
  }
}`

const mrvDoc = `{
  "type": "Feature",
  "ogcr_version": "1.0.0",
  "profile": "mrv",
  "properties": {
    "methodology_id": "OGCR-BC-001",
    "start_date": "2024-01-01",
    "end_date": "2024-12-31",
    "methodology_data": {"parameters": {"biomass": 3}},
    "net_removal_estimate": {"value": 1000, "unit": "tCO2e"},
    "total_uncertainty": {"min": 900, "max": 1100, "confidence_level": 0.95}
  }
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate_AcceptsBothProfiles(t *testing.T) {
	pddPath := writeFile(t, "pdd.json", pddDoc)
	mrvPath := writeFile(t, "mrv.json", mrvDoc)

	out, err := run(t, "validate", pddPath, mrvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "ok      "+pddPath)
	assert.Contains(t, out, "ok      "+mrvPath)

	want, _, err := canonical.Hash([]byte(pddDoc))
	require.NoError(t, err)
	assert.Contains(t, out, "sha256:"+want)
}

func TestValidate_ReportsFieldErrors(t *testing.T) {
	bad := strings.Replace(mrvDoc, `"end_date": "2024-12-31"`, `"end_date": "2023-12-31"`, 1)
	path := writeFile(t, "bad.json", bad)

	out, err := run(t, "validate", path)
	require.ErrorIs(t, err, errInvalidDocuments)
	assert.Contains(t, out, "invalid "+path)
	assert.Contains(t, out, "properties.end_date")
}

func TestValidate_ForcedProfileMismatch(t *testing.T) {
	path := writeFile(t, "pdd.json", pddDoc)
	_, err := run(t, "validate", "--profile", "mrv", path)
	assert.ErrorIs(t, err, errInvalidDocuments)
}

func TestValidate_RejectsBrokenGeometry(t *testing.T) {
	open := strings.Replace(pddDoc, `[0,1],[0,0]]]`, `[0,1]]]`, 1)
	path := writeFile(t, "open.json", open)
	out, err := run(t, "validate", path)
	require.ErrorIs(t, err, errInvalidDocuments)
	assert.Contains(t, out, "GeometryError")
}

func TestHash_IgnoresKeyOrderAndWhitespace(t *testing.T) {
	a := writeFile(t, "a.json", `{"b": 1.50, "a": [1e3, "x"]}`)
	b := writeFile(t, "b.json", `{"a":[1000,"x"],"b":1.5}`)

	outA, err := run(t, "hash", a)
	require.NoError(t, err)
	outB, err := run(t, "hash", b)
	require.NoError(t, err)
	assert.Equal(t, outA, outB)

	out, err := run(t, "hash", "--canonical", a)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, `{"a":[1000,"x"],"b":1.5}`+"\n"), out)
}

func TestActor_CreateAndDisable(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	prev := openDB
	openDB = func() (*gorm.DB, error) { return db, nil }
	t.Cleanup(func() { openDB = prev })

	out, err := run(t, "actor", "create", "verifier-7", "--role", "verifier", "--name", "Verifier Seven")
	require.NoError(t, err)
	key := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(key, "verifier-7."), key)

	svc := &auth.Service{DB: db}
	actor, err := svc.Authenticate(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []string{"verifier"}, actor.Roles)

	_, err = run(t, "actor", "create", "verifier-7", "--role", "verifier")
	assert.ErrorIs(t, err, auth.ErrCredentialExists)

	_, err = run(t, "actor", "disable", "verifier-7")
	require.NoError(t, err)
	_, err = svc.Authenticate(context.Background(), key)
	assert.ErrorIs(t, err, auth.ErrDisabled)
}
