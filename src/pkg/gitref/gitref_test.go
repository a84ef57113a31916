package gitref

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hello\n"), 0644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "octo", Email: "octo@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, hash.String()
}

func TestReadHead(t *testing.T) {
	dir, sha := initRepo(t)
	sub := filepath.Join(dir, "results")
	require.NoError(t, os.Mkdir(sub, 0755))

	head, err := ReadHead(sub)
	require.NoError(t, err)
	assert.Equal(t, sha, head.CommitSHA)
	assert.Equal(t, "refs/heads/master", head.Ref)

	_, err = ReadHead(t.TempDir())
	assert.Error(t, err)
}

func TestReadHead_Detached(t *testing.T) {
	dir, sha := initRepo(t)
	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(sha)}))

	head, err := ReadHead(dir)
	require.NoError(t, err)
	assert.Equal(t, sha, head.CommitSHA)
	assert.Empty(t, head.Ref)

	t.Setenv("GITHUB_SHA", "")
	t.Setenv("GITHUB_REF", "")
	_, err = Resolve("", "", dir)
	assert.ErrorIs(t, err, ErrDetachedHead)
}

func TestResolve(t *testing.T) {
	dir, sha := initRepo(t)

	t.Run("explicit values win", func(t *testing.T) {
		t.Setenv("GITHUB_SHA", "from-env")
		head, err := Resolve("abc123", "refs/heads/feature", t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, &Head{CommitSHA: "abc123", Ref: "refs/heads/feature"}, head)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("GITHUB_SHA", "from-env")
		t.Setenv("GITHUB_REF", "refs/pull/7/merge")
		head, err := Resolve("", "", t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, &Head{CommitSHA: "from-env", Ref: "refs/pull/7/merge"}, head)
	})

	t.Run("local repository", func(t *testing.T) {
		t.Setenv("GITHUB_SHA", "")
		t.Setenv("GITHUB_REF", "")
		head, err := Resolve("", "", dir)
		require.NoError(t, err)
		assert.Equal(t, &Head{CommitSHA: sha, Ref: "refs/heads/master"}, head)
	})
}

func TestPullRequestNumber(t *testing.T) {
	assert.Equal(t, 7, PullRequestNumber("refs/pull/7/merge"))
	assert.Equal(t, 12, PullRequestNumber("refs/pull/12/head"))
	assert.Equal(t, 0, PullRequestNumber("refs/heads/main"))
	assert.Equal(t, 0, PullRequestNumber(""))
}

func TestIsValidRef(t *testing.T) {
	assert.True(t, IsValidRef("refs/heads/main"))
	assert.True(t, IsValidRef("refs/tags/v1.0.0"))
	assert.True(t, IsValidRef("refs/pull/7/merge"))
	assert.False(t, IsValidRef("main"))
	assert.False(t, IsValidRef(""))
}
