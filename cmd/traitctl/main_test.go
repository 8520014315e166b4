package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traitfusion-api/internal/model"
	"traitfusion-api/internal/repository"
	"traitfusion-api/internal/service"
)

const testCollection = "traitfusion"

// seedStore writes one item with a few attributes, a snapshot and some
// action state, then closes the store.
func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traits.db")
	ctx := context.Background()

	store, err := repository.NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	roles := service.NewRoles()
	roles.Grant(service.RoleEngine, "engine")
	attrs := service.NewAttributeStore(service.AttributeStoreConfig{Store: store, Roles: roles})
	attrs.RegisterSchema(model.GameSchema(testCollection))

	require.NoError(t, attrs.SetUint(ctx, "engine", testCollection, 1, model.AttrLevel, 3))
	require.NoError(t, attrs.SetUint(ctx, "engine", testCollection, 1, model.AttrEnergy, 100))
	require.NoError(t, attrs.SetText(ctx, "engine", testCollection, 1, model.AttrZone, "ocean"))

	captured := time.Unix(1700000000, 0).UTC()
	values := []model.SnapshotValue{
		{Name: model.AttrLevel, Value: service.EncodeUint(3)},
		{Name: model.AttrZone, Value: service.EncodeText("ocean")},
	}
	snap := model.Snapshot{
		Collection: testCollection,
		ItemID:     1,
		Values:     values,
		CapturedAt: captured,
		Hash:       service.SnapshotHash(values, captured),
	}
	require.NoError(t, store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.PutSnapshot(ctx, snap); err != nil {
			return err
		}
		return tx.PutActionState(ctx, model.ActionState{Collection: testCollection, ItemID: 1, DailySteps: 4000})
	}))
	return path
}

func run(t *testing.T, path string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(DefaultStoreOpener, &out)
	root.SetArgs(append([]string{"--store", "sqlite", "--path", path, "--collection", testCollection}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestAttrsList(t *testing.T) {
	path := seedStore(t)

	out, err := run(t, path, "attrs", "list", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "level")
	assert.Contains(t, out, "ocean")
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)

	out, err = run(t, path, "attrs", "list", "2")
	require.NoError(t, err)
	assert.Equal(t, "item 2 has no attributes\n", out)

	_, err = run(t, path, "attrs", "list", "0")
	assert.Error(t, err)
}

func TestAttrsGet(t *testing.T) {
	path := seedStore(t)

	out, err := run(t, path, "attrs", "get", "1", "level")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, err = run(t, path, "attrs", "get", "1", "level", "--as", "raw")
	require.NoError(t, err)
	assert.Equal(t, "0x03\n", out)

	out, err = run(t, path, "attrs", "get", "1", "zone")
	require.NoError(t, err)
	assert.Equal(t, "ocean\n", out)

	_, err = run(t, path, "attrs", "get", "1", "zone", "--as", "uint")
	assert.ErrorIs(t, err, service.ErrDecode)

	_, err = run(t, path, "attrs", "get", "1", "charisma")
	assert.ErrorIs(t, err, service.ErrUnknownAttribute)
}

func TestDigest(t *testing.T) {
	path := seedStore(t)

	out, err := run(t, path, "digest", "1", "level", "energy")
	require.NoError(t, err)
	want := service.Keccak256(service.EncodeUint(3), service.EncodeUint(100))
	assert.Equal(t, want.Hex()+"\n", out)
}

func TestSnapshotCommands(t *testing.T) {
	path := seedStore(t)

	out, err := run(t, path, "snapshot", "verify", "1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ok 0x"))

	out, err = run(t, path, "snapshot", "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"item_id": 1`)

	_, err = run(t, path, "snapshot", "verify", "2")
	assert.EqualError(t, err, "no snapshot for item 2")
}

func TestJobsRun(t *testing.T) {
	path := seedStore(t)

	out, err := run(t, path, "jobs", "run", "daily-reset")
	require.NoError(t, err)
	assert.Equal(t, "daily-reset: 1 rows affected\n", out)

	out, err = run(t, path, "jobs", "run", "oracle-janitor", "--ttl", "1h")
	require.NoError(t, err)
	assert.Equal(t, "oracle-janitor: 0 rows affected\n", out)

	_, err = run(t, path, "jobs", "run", "vacuum")
	assert.Error(t, err)
}
