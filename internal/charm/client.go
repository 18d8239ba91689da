// ABOUTME: Charm KV client wrapper for cloud-synced analytics events
// ABOUTME: Backs the telemetry sink when TELEMETRY_BACKEND=charm, with SSH key auth
package charm

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/charm/client"
	"github.com/charmbracelet/charm/kv"
	"github.com/google/uuid"

	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/models"
)

// EventPrefix is the key prefix of analytics events
const EventPrefix = "event:"

// minSyncInterval throttles cloud syncs triggered by writes
const minSyncInterval = 30 * time.Second

// Config holds charm client configuration
type Config struct {
	Host     string
	DBName   string
	AutoSync bool
}

// ConfigFrom extracts the charm settings from the engine configuration
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		Host:     cfg.CharmHost,
		DBName:   cfg.CharmDBName,
		AutoSync: cfg.AutoSync,
	}
}

// Client wraps charm KV for event storage and account operations
type Client struct {
	kv       *kv.KV
	config   *Config
	mu       sync.Mutex
	lastSync time.Time
}

// NewClient creates a new charm client with the given config
func NewClient(cfg *Config) (*Client, error) {
	// Set CHARM_HOST before opening KV
	if err := os.Setenv("CHARM_HOST", cfg.Host); err != nil {
		return nil, err
	}

	db, err := kv.OpenWithDefaults(cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to open charm kv: %w", err)
	}

	c := &Client{
		kv:     db,
		config: cfg,
	}

	// Pull remote data on startup
	if cfg.AutoSync {
		_ = db.Sync()
		c.lastSync = time.Now()
	}

	return c, nil
}

// Close pushes pending writes and closes the KV database
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kv == nil {
		return nil
	}
	if c.config.AutoSync {
		_ = c.kv.Sync()
	}
	err := c.kv.Close()
	c.kv = nil
	return err
}

// syncIfDue syncs to cloud after writes, at most once per minSyncInterval
func (c *Client) syncIfDue() {
	if !c.config.AutoSync || time.Since(c.lastSync) < minSyncInterval {
		return
	}
	_ = c.kv.Sync()
	c.lastSync = time.Now()
}

// ID returns the charm user ID
func (c *Client) ID() (string, error) {
	cc, err := client.NewClientWithDefaults()
	if err != nil {
		return "", fmt.Errorf("failed to create charm client: %w", err)
	}
	return cc.ID()
}

// RecordEvent stores an analytics event as JSON
func (c *Client) RecordEvent(ctx context.Context, event *models.AnalyticsEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := EventKey(event)
	if err := c.kv.Set([]byte(key), data); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	c.syncIfDue()
	return nil
}

// ListEvents returns a user's events in time order
func (c *Client) ListEvents(ctx context.Context, userID string) ([]models.AnalyticsEvent, error) {
	keys, err := c.ListKeys(UserEventPrefix(userID))
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]models.AnalyticsEvent, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := c.kv.Get([]byte(key))
		if err != nil || data == nil {
			continue
		}
		var e models.AnalyticsEvent
		if err := json.Unmarshal(data, &e); err != nil || e.UserID != userID {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// DeleteEvents removes all events of a user
func (c *Client) DeleteEvents(ctx context.Context, userID string) (int64, error) {
	keys, err := c.ListKeys(UserEventPrefix(userID))
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := c.kv.Delete([]byte(key)); err != nil {
			return n, fmt.Errorf("failed to delete key %s: %w", key, err)
		}
		n++
	}
	if n > 0 && c.config.AutoSync {
		_ = c.kv.Sync()
		c.lastSync = time.Now()
	}
	return n, nil
}

// ListKeys returns all keys with the given prefix
func (c *Client) ListKeys(prefix string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.kv.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var result []string
	for _, key := range keys {
		keyStr := string(key)
		if strings.HasPrefix(keyStr, prefix) {
			result = append(result, keyStr)
		}
	}
	return result, nil
}

// Sync manually triggers a sync with the cloud
func (c *Client) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSync = time.Now()
	return c.kv.Sync()
}

// Reset wipes all local data (nuclear option)
func (c *Client) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kv.Reset()
}

// GetAuthorizedKeys returns the list of linked devices/keys
func (c *Client) GetAuthorizedKeys() (string, error) {
	cc, err := client.NewClientWithDefaults()
	if err != nil {
		return "", fmt.Errorf("failed to create charm client: %w", err)
	}
	return cc.AuthorizedKeys()
}

// UnlinkKey removes an authorized key from the account
func (c *Client) UnlinkKey(key string) error {
	cc, err := client.NewClientWithDefaults()
	if err != nil {
		return fmt.Errorf("failed to create charm client: %w", err)
	}
	return cc.UnlinkAuthorizedKey(key)
}

// UserEventPrefix is the key prefix of one user's events. The user ID is
// hex-encoded so no ID can be a prefix of another's key segment.
func UserEventPrefix(userID string) string {
	return EventPrefix + hex.EncodeToString([]byte(userID)) + ":"
}

// EventKey generates a time-sortable key for an event. Zero-padded nanoseconds
// keep lexical and chronological order aligned; the uuid suffix keeps events
// sharing a timestamp apart.
func EventKey(event *models.AnalyticsEvent) string {
	return fmt.Sprintf("%s%019d:%s:%s", UserEventPrefix(event.UserID), event.Timestamp.UnixNano(), event.EventName, uuid.NewString())
}
