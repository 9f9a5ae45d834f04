package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type build struct {
	version, commit, date, branch, tree string
}

func setBuild(t *testing.T, b build) {
	t.Helper()
	saved := build{Version, Commit, Date, Branch, TreeState}
	t.Cleanup(func() {
		Version, Commit, Date, Branch, TreeState = saved.version, saved.commit, saved.date, saved.branch, saved.tree
	})
	Version, Commit, Date, Branch, TreeState = b.version, b.commit, b.date, b.branch, b.tree
}

func TestCommitLabel(t *testing.T) {
	tests := []struct {
		name   string
		commit string
		tree   string
		want   string
	}{
		{"unknown commit", "unknown", "dirty", ""},
		{"too short", "abc12", "clean", ""},
		{"clean tree", "0123456789abcdef", "clean", "01234567"},
		{"dirty tree", "0123456789abcdef", "dirty", "01234567*"},
		{"no tree state", "0123456789abcdef", "", "01234567"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBuild(t, build{version: "0.3.0", commit: tt.commit, date: "unknown", tree: tt.tree})
			assert.Equal(t, tt.want, commitLabel())
		})
	}
}

func TestString(t *testing.T) {
	platform := runtime.GOOS + "/" + runtime.GOARCH

	t.Run("development build", func(t *testing.T) {
		setBuild(t, build{version: "dev", commit: "unknown", date: "unknown"})
		assert.Equal(t, "deskcap version dev ("+GoVersion+", "+platform+")", String())
	})

	t.Run("release build on a branch", func(t *testing.T) {
		setBuild(t, build{
			version: "0.3.0",
			commit:  "0123456789abcdef",
			date:    "2026-10-01T08:00:00Z",
			branch:  "main",
			tree:    "dirty",
		})
		assert.Equal(t,
			"deskcap version 0.3.0 (commit: 01234567*, branch: main, built: 2026-10-01T08:00:00Z, "+GoVersion+", "+platform+")",
			String())
	})

	t.Run("no branch recorded", func(t *testing.T) {
		setBuild(t, build{version: "0.3.0", commit: "0123456789abcdef", date: "2026-10-01T08:00:00Z"})
		assert.NotContains(t, String(), "branch:")
	})
}

func TestShort(t *testing.T) {
	setBuild(t, build{version: "0.3.0", commit: "unknown"})
	assert.Equal(t, "0.3.0", Short())

	setBuild(t, build{version: "0.3.0", commit: "0123456789abcdef", tree: "dirty"})
	assert.Equal(t, "0.3.0 (01234567*)", Short())
}

func TestJSON(t *testing.T) {
	t.Run("full build info", func(t *testing.T) {
		setBuild(t, build{
			version: "0.3.0",
			commit:  "0123456789abcdef",
			date:    "2026-10-01T08:00:00Z",
			branch:  "capture-pacing",
			tree:    "clean",
		})

		var info Info
		require.NoError(t, json.Unmarshal([]byte(JSON()), &info))
		assert.Equal(t, "0.3.0", info.Version)
		assert.Equal(t, "0123456789abcdef", info.Commit)
		assert.Equal(t, "01234567", info.CommitSHA)
		assert.Equal(t, "capture-pacing", info.Branch)
		assert.Equal(t, "clean", info.TreeState)
		assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	})

	t.Run("branch and tree state omitted when unset", func(t *testing.T) {
		setBuild(t, build{version: "dev", commit: "unknown", date: "unknown"})

		var raw map[string]any
		require.NoError(t, json.Unmarshal([]byte(JSON()), &raw))
		assert.NotContains(t, raw, "branch")
		assert.NotContains(t, raw, "tree_state")
		assert.Equal(t, "", raw["commit_sha"])
	})
}
