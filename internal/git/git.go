package git

import (
	"os/exec"
	"strings"
	"sync"
	"time"
)

type Info struct {
	RepoRoot  string
	Branch    string
	UpdatedAt time.Time
}

// Cache holds per-directory git metadata with a TTL, so repeated
// lookups for the same working directory don't shell out every time.
type Cache struct {
	cache map[string]*Info
	mu    sync.RWMutex
	ttl   time.Duration
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		cache: make(map[string]*Info),
		ttl:   ttl,
	}
}

func (c *Cache) Get(cwd string) (*Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, ok := c.cache[cwd]
	if !ok {
		return nil, false
	}
	if time.Since(info.UpdatedAt) > c.ttl {
		return nil, false
	}
	return info, true
}

func (c *Cache) Set(cwd string, info *Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[cwd] = info
}

func (c *Cache) Delete(cwd string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, cwd)
}

// Resolve gets git metadata for a directory, or nil when it is not
// inside a repository.
func Resolve(cwd string) *Info {
	info := &Info{
		UpdatedAt: time.Now(),
	}

	cmd := exec.Command("git", "-C", cwd, "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return nil // Not a git repo
	}
	info.RepoRoot = strings.TrimSpace(string(output))

	cmd = exec.Command("git", "-C", info.RepoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	output, err = cmd.Output()
	if err == nil {
		info.Branch = strings.TrimSpace(string(output))
	}

	return info
}

// ResolveCached answers from the cache when fresh, falling back to a
// live lookup.
func ResolveCached(cache *Cache, cwd string) *Info {
	if info, ok := cache.Get(cwd); ok {
		return info
	}
	info := Resolve(cwd)
	if info != nil {
		cache.Set(cwd, info)
	}
	return info
}
