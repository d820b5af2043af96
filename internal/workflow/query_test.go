package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildlens/buildlens/internal/store"
)

func TestLinkedTests(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	create := store.FunctionKey{FilePath: "src/user.service.ts", Name: "UserService.createUser", StartLine: 10, EndLine: 20}
	remove := store.FunctionKey{FilePath: "src/user.service.ts", Name: "UserService.deleteUser", StartLine: 22, EndLine: 30}
	seedLink(t, s, create, "src/user.service.spec.ts", "UserService > creates")
	seedLink(t, s, create, "src/api.spec.ts", "POST /users")
	seedLink(t, s, remove, "src/user.service.spec.ts", "UserService > deletes")

	t.Run("whole file", func(t *testing.T) {
		out, err := LinkedTests(ctx, s, "src/user.service.ts", "")
		require.NoError(t, err)
		require.Len(t, out.Functions, 2)
		assert.Equal(t, "UserService.createUser", out.Functions[0].Name)
		assert.Equal(t, "src/user.service.ts:10-20", out.Functions[0].Location)
		assert.Equal(t, []string{
			"src/api.spec.ts::POST /users",
			"src/user.service.spec.ts::UserService > creates",
		}, out.Functions[0].Tests)
		assert.Equal(t, []string{"src/api.spec.ts", "src/user.service.spec.ts"}, out.TestFiles)
	})

	t.Run("method name", func(t *testing.T) {
		out, err := LinkedTests(ctx, s, "src/user.service.ts", "deleteUser")
		require.NoError(t, err)
		require.Len(t, out.Functions, 1)
		assert.Equal(t, "UserService.deleteUser", out.Functions[0].Name)
		assert.Equal(t, []string{"src/user.service.spec.ts"}, out.TestFiles)
	})

	t.Run("unknown file", func(t *testing.T) {
		out, err := LinkedTests(ctx, s, "src/nope.ts", "")
		require.NoError(t, err)
		assert.Empty(t, out.Functions)
		assert.Empty(t, out.TestFiles)
	})
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seedLink(t, s, store.FunctionKey{FilePath: "src/a.ts", Name: "a", StartLine: 1, EndLine: 3}, "src/a.spec.ts", "a works")

	root := t.TempDir()
	for _, f := range []string{"src/a.spec.ts", "src/b.test.tsx", "src/b.tsx", "node_modules/x/x.spec.js"} {
		path := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, nil, 0644))
	}

	out, err := Status(ctx, s, root, nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", out.Backend)
	assert.Equal(t, 1, out.Tests)
	assert.Equal(t, 1, out.Functions)
	assert.Equal(t, 1, out.Links)
	assert.Equal(t, 2, out.TestFiles)
	assert.Equal(t, []string{"src/b.test.tsx"}, out.Unlearned)

	out, err = Status(ctx, s, "", nil)
	require.NoError(t, err)
	assert.Zero(t, out.TestFiles)
	assert.Nil(t, out.Unlearned)
}
