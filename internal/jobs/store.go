package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PentesterFlow/pagewalker/internal/state"
)

const (
	bucketProfiles = "profiles"
	bucketJobs     = "jobs"
	bucketSettings = "settings"

	settingsKey = "app"
)

// ErrProfileNotFound and ErrJobNotFound wrap state.ErrNotFound.
var (
	ErrProfileNotFound = fmt.Errorf("profile %w", state.ErrNotFound)
	ErrJobNotFound     = fmt.Errorf("job %w", state.ErrNotFound)
)

// Repository persists profiles, jobs and settings in a state.Store.
type Repository struct {
	store state.Store
	now   func() time.Time
}

// NewRepository wraps store.
func NewRepository(store state.Store) *Repository {
	return &Repository{store: store, now: time.Now}
}

// Close closes the underlying store.
func (r *Repository) Close() error {
	return r.store.Close()
}

// SaveProfile inserts or updates p.
func (r *Repository) SaveProfile(p *Profile) error {
	if p.ID == "" {
		return fmt.Errorf("%w: profile has no id", ErrInvalidProfile)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	p.UpdatedAt = r.now()
	return r.store.Put(bucketProfiles, p.ID, p)
}

// Profile returns the profile with the given ID.
func (r *Repository) Profile(id string) (*Profile, error) {
	var p Profile
	if err := r.store.Get(bucketProfiles, id, &p); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

// FindProfile looks a profile up by ID, then by case-insensitive name.
func (r *Repository) FindProfile(ref string) (*Profile, error) {
	ref = strings.TrimSpace(ref)
	p, err := r.Profile(ref)
	if err == nil || !errors.Is(err, state.ErrNotFound) {
		return p, err
	}

	profiles, err := r.Profiles()
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if strings.EqualFold(p.Name, ref) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, ref)
}

// Profiles returns all profiles sorted by name.
func (r *Repository) Profiles() ([]*Profile, error) {
	var profiles []*Profile
	err := r.store.ForEach(bucketProfiles, func(_ string, data []byte) error {
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		profiles = append(profiles, &p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	sort.Slice(profiles, func(i, j int) bool {
		return strings.ToLower(profiles[i].Name) < strings.ToLower(profiles[j].Name)
	})
	return profiles, nil
}

// DeleteProfile removes a profile. Its jobs are kept.
func (r *Repository) DeleteProfile(id string) error {
	if _, err := r.Profile(id); err != nil {
		return err
	}
	return r.store.Delete(bucketProfiles, id)
}

// SaveJob inserts or updates j.
func (r *Repository) SaveJob(j *Job) error {
	return r.store.Put(bucketJobs, j.ID, j)
}

// Job returns the job with the given ID.
func (r *Repository) Job(id string) (*Job, error) {
	var j Job
	if err := r.store.Get(bucketJobs, id, &j); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, err
	}
	return &j, nil
}

// Jobs returns all jobs, newest first.
func (r *Repository) Jobs() ([]*Job, error) {
	var jobs []*Job
	err := r.store.ForEach(bucketJobs, func(_ string, data []byte) error {
		var j Job
		if err := json.Unmarshal(data, &j); err != nil {
			return err
		}
		jobs = append(jobs, &j)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return jobs, nil
}

// Settings returns the stored settings, or the defaults when none are.
func (r *Repository) Settings() (Settings, error) {
	var s Settings
	if err := r.store.Get(bucketSettings, settingsKey, &s); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return DefaultSettings(), nil
		}
		return Settings{}, err
	}
	return s.Sanitize(), nil
}

// SaveSettings stores s after sanitizing it and returns what was stored.
func (r *Repository) SaveSettings(s Settings) (Settings, error) {
	s = s.Sanitize()
	if err := r.store.Put(bucketSettings, settingsKey, s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ResetSettings restores the defaults.
func (r *Repository) ResetSettings() (Settings, error) {
	return r.SaveSettings(DefaultSettings())
}
