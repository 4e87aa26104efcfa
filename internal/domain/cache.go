package domain

import "time"

// Repository identifies one tracked repository.
type Repository struct {
	Name  string `yaml:"name" json:"name"`
	Owner string `yaml:"owner" json:"owner"`
	Repo  string `yaml:"repo" json:"repo"`
}

// ConditionalToken holds the cache validators observed on the last fetch of
// a repository. At most one token exists per (owner, repo); every fetch that
// returns new header values overwrites it.
type ConditionalToken struct {
	ETag         string    `json:"etag"`
	LastModified string    `json:"last_modified"`
	CheckedAt    time.Time `json:"checked_at"`
}

// CacheInfo summarizes the cached snapshots for one repository. A nil
// CacheInfo means the repository was never fetched, which is distinct from
// "fetched but empty after filtering".
type CacheInfo struct {
	Count       int       `json:"count"`
	LatestFetch time.Time `json:"latest_fetch"`
	OldestFetch time.Time `json:"oldest_fetch"`
}
