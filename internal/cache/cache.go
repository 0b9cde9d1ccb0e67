// Package cache provides disk caching of the last good catalog listing.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultExpiry is how long a cached listing is valid.
	DefaultExpiry = 24 * time.Hour
	// ListingSubdir is the subdirectory for cached listings.
	ListingSubdir = "listings"
	// AppName is used for the cache directory name.
	AppName = "lofi"
)

// Cache manages disk-based caching of catalog listings so the player can
// start from the last known listing when the catalog is unreachable.
type Cache struct {
	baseDir string
	expiry  time.Duration
}

// NewCache creates a new Cache instance with the default expiry.
func NewCache() (*Cache, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return nil, err
	}

	return &Cache{
		baseDir: cacheDir,
		expiry:  DefaultExpiry,
	}, nil
}

// GetCacheDir returns the platform-specific cache directory for the application.
func GetCacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}

	return filepath.Join(userCacheDir, AppName), nil
}

func (c *Cache) ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

func hashURL(url string) string {
	hash := md5.Sum([]byte(url))
	return hex.EncodeToString(hash[:])
}

func (c *Cache) listingPath(url string) string {
	return filepath.Join(c.baseDir, ListingSubdir, hashURL(url)+".txt")
}

// GetListing retrieves cached track identifiers for a catalog URL.
// Returns nil if not found or expired.
func (c *Cache) GetListing(url string) []string {
	listingPath := c.listingPath(url)

	info, err := os.Stat(listingPath)
	if err != nil {
		return nil
	}

	if time.Since(info.ModTime()) > c.expiry {
		if err := os.Remove(listingPath); err != nil {
			log.Debug().Err(err).Str("file", listingPath).Msg("Failed to remove expired cache file")
		}
		return nil
	}

	data, err := os.ReadFile(listingPath)
	if err != nil {
		return nil
	}

	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			ids = append(ids, line)
		}
	}

	if len(ids) == 0 {
		return nil
	}
	return ids
}

// SaveListing stores track identifiers in the cache, keyed by the catalog URL.
func (c *Cache) SaveListing(url string, ids []string) error {
	listingDir := filepath.Join(c.baseDir, ListingSubdir)

	if err := c.ensureDir(listingDir); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data := strings.Join(ids, "\n") + "\n"
	if err := os.WriteFile(c.listingPath(url), []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	return nil
}

// CleanExpired removes cache files older than the expiry duration.
func (c *Cache) CleanExpired() error {
	listingDir := filepath.Join(c.baseDir, ListingSubdir)

	entries, err := os.ReadDir(listingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	now := time.Now()
	var removed, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Debug().Err(err).Str("file", entry.Name()).Msg("Failed to get file info")
			continue
		}

		if now.Sub(info.ModTime()) > c.expiry {
			filePath := filepath.Join(listingDir, entry.Name())
			if err := os.Remove(filePath); err != nil {
				log.Debug().Err(err).Str("file", filePath).Msg("Failed to remove expired cache file")
				failed++
			} else {
				removed++
			}
		}
	}

	if removed > 0 || failed > 0 {
		log.Debug().Int("removed", removed).Int("failed", failed).Msg("Cache cleanup completed")
	}

	return nil
}
