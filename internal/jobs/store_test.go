package jobs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PentesterFlow/pagewalker/internal/fetch"
	"github.com/PentesterFlow/pagewalker/internal/state"
)

func repositories(t *testing.T) map[string]*Repository {
	t.Helper()

	bolt, err := state.NewBoltStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)

	repos := map[string]*Repository{
		"memory": NewRepository(state.NewMemoryStore()),
		"bolt":   NewRepository(bolt),
	}
	t.Cleanup(func() {
		for _, r := range repos {
			_ = r.Close()
		}
	})
	return repos
}

func TestRepository_Profiles(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			d := validDraft()
			d.Name = "zeta"
			zeta, err := NewProfile(d, time.Now())
			require.NoError(t, err)
			d.Name = "Alpha"
			alpha, err := NewProfile(d, time.Now())
			require.NoError(t, err)

			require.NoError(t, repo.SaveProfile(zeta))
			require.NoError(t, repo.SaveProfile(alpha))

			got, err := repo.Profile(zeta.ID)
			require.NoError(t, err)
			assert.Equal(t, "zeta", got.Name)
			assert.Equal(t, zeta.SelectorRules, got.SelectorRules)

			byName, err := repo.FindProfile("ALPHA")
			require.NoError(t, err)
			assert.Equal(t, alpha.ID, byName.ID)

			list, err := repo.Profiles()
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "Alpha", list[0].Name)

			require.NoError(t, repo.DeleteProfile(zeta.ID))
			_, err = repo.Profile(zeta.ID)
			assert.ErrorIs(t, err, ErrProfileNotFound)
			assert.ErrorIs(t, err, state.ErrNotFound)
			assert.ErrorIs(t, repo.DeleteProfile(zeta.ID), state.ErrNotFound)

			_, err = repo.FindProfile("nobody")
			assert.ErrorIs(t, err, ErrProfileNotFound)
		})
	}
}

func TestRepository_JobsNewestFirst(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			p, err := NewProfile(validDraft(), time.Now())
			require.NoError(t, err)

			base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
			var ids []string
			for i := 0; i < 3; i++ {
				j := NewJob(p, "https://example.com/1", base.Add(time.Duration(i)*time.Minute))
				require.NoError(t, repo.SaveJob(j))
				ids = append(ids, j.ID)
			}

			jobs, err := repo.Jobs()
			require.NoError(t, err)
			require.Len(t, jobs, 3)
			assert.Equal(t, ids[2], jobs[0].ID)
			assert.Equal(t, ids[0], jobs[2].ID)
			assert.Equal(t, StatusQueued, jobs[0].Status)

			_, err = repo.Job("missing")
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestRepository_Settings(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			s, err := repo.Settings()
			require.NoError(t, err)
			assert.Equal(t, DefaultSettings(), s)

			stored, err := repo.SaveSettings(Settings{OutputDir: "out", MaxPagesDefault: -3, RequestTimeout: 2 * time.Second, Renderer: fetch.Rendered})
			require.NoError(t, err)
			assert.Equal(t, 100, stored.MaxPagesDefault)

			s, err = repo.Settings()
			require.NoError(t, err)
			assert.Equal(t, stored, s)

			s, err = repo.ResetSettings()
			require.NoError(t, err)
			assert.Equal(t, DefaultSettings(), s)
		})
	}
}
