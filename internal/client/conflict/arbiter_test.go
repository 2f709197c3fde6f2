package conflict_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/client/conflict"
)

func TestAutomaticPolicyResolvesUseLocal(t *testing.T) {
	a := conflict.NewAutomaticArbiter(nil)

	decision, err := a.Resolve(context.Background(), "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, conflict.UseLocal, decision)
}

type countingPolicy struct {
	calls atomic.Int64
}

func (p *countingPolicy) Decide(ctx context.Context, path string) (conflict.Decision, error) {
	p.calls.Add(1)
	return conflict.UseServer, nil
}

func TestGracePeriodSuppressesRepeatResolution(t *testing.T) {
	policy := &countingPolicy{}
	a := conflict.New(policy, nil)

	first, err := a.Resolve(context.Background(), "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, conflict.UseServer, first)

	second, err := a.Resolve(context.Background(), "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, conflict.Cancelled, second, "repeat resolution within the grace window is a no-op")

	assert.Equal(t, int64(1), policy.calls.Load())
}

func TestConcurrentResolutionsForSamePathSingleFlight(t *testing.T) {
	policy := &countingPolicy{}
	a := conflict.New(policy, nil)

	var wg sync.WaitGroup
	results := make([]conflict.Decision, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			d, err := a.Resolve(context.Background(), "/shared.txt")
			require.NoError(t, err)
			results[i] = d
		}(i)
	}

	wg.Wait()

	for _, d := range results {
		assert.Equal(t, conflict.UseServer, d)
	}

	assert.Equal(t, int64(1), policy.calls.Load(), "concurrent requests for the same path consult the policy once")
}

func TestRecentlyUploadedWindow(t *testing.T) {
	a := conflict.NewAutomaticArbiter(nil)

	assert.False(t, a.RecentlyUploaded("/a.txt"))

	a.MarkUploaded("/a.txt")
	assert.True(t, a.RecentlyUploaded("/a.txt"))
}

func TestGenerateBackupPathAvoidsCollisionAndHandlesDotfiles(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "report.docx")
	backup1 := conflict.GenerateBackupPath(plain)
	assert.Contains(t, backup1, ".conflict-")
	assert.Contains(t, backup1, ".docx")

	require.NoError(t, os.WriteFile(backup1, []byte("x"), 0o644))
	backup2 := conflict.GenerateBackupPath(plain)
	assert.NotEqual(t, backup1, backup2, "a second backup for the same path avoids colliding with the first")

	dotfile := filepath.Join(dir, ".bashrc")
	dotBackup := conflict.GenerateBackupPath(dotfile)
	assert.Contains(t, filepath.Base(dotBackup), ".bashrc.conflict-")
}
