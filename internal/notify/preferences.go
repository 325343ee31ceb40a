package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/HarshaReddyVardhan/banking-notification-service/internal/errors"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/telemetry"
)

// maxDevices is the registered-push-device cap; the oldest device is
// evicted when a new one is registered past this limit.
const maxDevices = 10

// Device is one registered push device.
type Device struct {
	Token        string    `json:"token"`
	Platform     string    `json:"platform"`
	RegisteredAt time.Time `json:"registered_at"`
}

// QuietHours is a per-user do-not-disturb window evaluated in the user's
// own timezone, never process-local time.
type QuietHours struct {
	Enabled        bool   `json:"enabled"`
	StartHour      int    `json:"start_hour"` // 0-23, local to Timezone
	EndHour        int    `json:"end_hour"`   // 0-23, local to Timezone, may wrap past midnight
	Timezone       string `json:"timezone"`   // IANA name, e.g. "America/New_York"
	CriticalBypass bool   `json:"critical_bypass"`
}

// InQuietHours reports whether `at` (converted into the user's timezone)
// falls inside the configured window.
func (q QuietHours) InQuietHours(at time.Time) bool {
	if !q.Enabled {
		return false
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)
	hour := local.Hour()
	if q.StartHour == q.EndHour {
		return false
	}
	if q.StartHour < q.EndHour {
		return hour >= q.StartHour && hour < q.EndHour
	}
	// Window wraps past midnight, e.g. 22 -> 7.
	return hour >= q.StartHour || hour < q.EndHour
}

// BudgetOverride narrows or widens the service-wide default rate budget for
// one channel. Per-user overrides are authoritative: they may widen or
// narrow the default, bounded to [1, 10x default] so a misconfiguration
// can't fully disable or unbound a channel's budget.
type BudgetOverride struct {
	HourlyCap int `json:"hourly_cap"`
	DailyCap  int `json:"daily_cap"`
}

// KindOverride lets a user redirect or suppress one specific event kind's
// channel set and quiet-hours behavior, taking precedence over KindDefaults.
type KindOverride struct {
	Enabled          bool      `json:"enabled"`  // false suppresses this kind entirely, regardless of Channels
	Channels         []Channel `json:"channels"` // empty slice means "suppress entirely"
	BypassQuietHours bool      `json:"bypass_quiet_hours"` // per-kind override of the catalog's BypassQuietHours flag
}

// Preferences is the User Preferences document, keyed uniquely by user id.
type Preferences struct {
	UserID           string
	ChannelsEnabled  map[Channel]bool
	PhoneEncrypted   string
	PhoneVerifiedAt  *time.Time
	EmailEncrypted   string
	EmailVerifiedAt  *time.Time
	Devices          []Device
	KindOverrides    map[Kind]KindOverride
	QuietHours       QuietHours
	BudgetOverrides  map[Channel]BudgetOverride
	DoNotContact     bool
	DigestHourUTC    int       // hour (0-23) in the user's own timezone for daily/weekly digest firing
	DigestEnabled    bool      // opt-in for the Digest Engine; quiet-hours-deferred notifications are dropped, not digested, when false
	DigestFrequency  Frequency // cadence the Digest Engine queues deferred notifications under
	UpdatedAt        time.Time
}

// HasVerifiedPhone reports whether SMS delivery's precondition is met.
func (p *Preferences) HasVerifiedPhone() bool {
	return p.PhoneEncrypted != "" && p.PhoneVerifiedAt != nil
}

// HasVerifiedEmail reports whether email delivery's precondition is met.
func (p *Preferences) HasVerifiedEmail() bool {
	return p.EmailEncrypted != "" && p.EmailVerifiedAt != nil
}

// HasDevice reports whether push delivery's precondition (>=1 device) is met.
func (p *Preferences) HasDevice() bool {
	return len(p.Devices) > 0
}

// RegisterDevice adds a device, evicting the oldest registered device if the
// cap of maxDevices would otherwise be exceeded.
func (p *Preferences) RegisterDevice(d Device) {
	for i, existing := range p.Devices {
		if existing.Token == d.Token {
			p.Devices[i] = d
			return
		}
	}
	p.Devices = append(p.Devices, d)
	if len(p.Devices) > maxDevices {
		oldest := 0
		for i, dev := range p.Devices {
			if dev.RegisteredAt.Before(p.Devices[oldest].RegisteredAt) {
				oldest = i
			}
		}
		p.Devices = append(p.Devices[:oldest], p.Devices[oldest+1:]...)
	}
}

// ResolveChannels computes the channel set for a request: the per-kind
// override when present, else the kind's catalog default, intersected with
// globally-enabled channels. If the result is empty, the kind is critical,
// and socket is globally enabled, socket is force-added — a critical alert
// is never silently swallowed.
func (p *Preferences) ResolveChannels(kind Kind, defaults KindDefaults) []Channel {
	var candidates []Channel
	if override, ok := p.KindOverrides[kind]; ok {
		if !override.Enabled {
			return nil
		}
		candidates = override.Channels
	} else {
		candidates = defaults.DefaultChannels
	}

	resolved := make([]Channel, 0, len(candidates))
	for _, ch := range candidates {
		if p.ChannelsEnabled[ch] {
			resolved = append(resolved, ch)
		}
	}

	if len(resolved) == 0 && defaults.Priority == PriorityCritical && p.ChannelsEnabled[ChannelSocket] {
		resolved = append(resolved, ChannelSocket)
	}
	return resolved
}

// BudgetFor returns the effective hourly/daily caps for a channel, applying
// the user's override (if any) over the service default, bounded to
// [1, 10x default] per the resolved Open Question on override authority.
func (p *Preferences) BudgetFor(channel Channel, serviceDefault BudgetOverride) BudgetOverride {
	override, ok := p.BudgetOverrides[channel]
	if !ok {
		return serviceDefault
	}
	clamp := func(v, def int) int {
		if v < 1 {
			return 1
		}
		if v > def*10 {
			return def * 10
		}
		return v
	}
	return BudgetOverride{
		HourlyCap: clamp(override.HourlyCap, serviceDefault.HourlyCap),
		DailyCap:  clamp(override.DailyCap, serviceDefault.DailyCap),
	}
}

// PreferencesStore is the Preferences Store contract: GetOrCreate is the one
// programmatic operation exposed per spec, plus the mutation paths the
// Router, adapters, and admin tooling need.
type PreferencesStore interface {
	GetOrCreate(ctx context.Context, userID string) (*Preferences, error)
	Save(ctx context.Context, prefs *Preferences) error
	RegisterDevice(ctx context.Context, userID string, d Device) error
	SetBudgetOverride(ctx context.Context, userID string, channel Channel, override BudgetOverride) error
	Close() error
}

// preferencesRow is the encrypted-at-rest wire shape for the preferences
// document, grounded on the teacher's repository.go row-scanning pattern.
type preferencesRow struct {
	ChannelsEnabled map[Channel]bool         `json:"channels_enabled"`
	PhoneEncrypted  string                   `json:"phone_encrypted"`
	PhoneVerifiedAt *time.Time               `json:"phone_verified_at,omitempty"`
	EmailEncrypted  string                   `json:"email_encrypted"`
	EmailVerifiedAt *time.Time               `json:"email_verified_at,omitempty"`
	Devices         []Device                 `json:"devices"`
	KindOverrides   map[Kind]KindOverride    `json:"kind_overrides"`
	QuietHours      QuietHours               `json:"quiet_hours"`
	BudgetOverrides map[Channel]BudgetOverride `json:"budget_overrides"`
	DoNotContact    bool                     `json:"do_not_contact"`
	DigestHourUTC   int                      `json:"digest_hour_utc"`
	DigestEnabled   bool                     `json:"digest_enabled"`
	DigestFrequency Frequency                `json:"digest_frequency"`
}

// PostgresPreferencesStore persists the Preferences document as a single
// JSONB column keyed by user id, grounded on the teacher's repository.go use
// of database/sql with lib/pq.
type PostgresPreferencesStore struct {
	db     *sql.DB
	cipher *FieldCipher
	cache  *prefsCache
}

// NewPostgresPreferencesStore wires a Postgres-backed store with a
// process-local read-through cache (TTL ~5 minutes, per spec §5 — this is
// deliberately NOT the shared Redis store used for dedup/rate/digest, since
// the spec calls the preferences cache out as process-local).
func NewPostgresPreferencesStore(db *sql.DB, cipher *FieldCipher) *PostgresPreferencesStore {
	return &PostgresPreferencesStore{db: db, cipher: cipher, cache: newPrefsCache(5 * time.Minute)}
}

func (s *PostgresPreferencesStore) GetOrCreate(ctx context.Context, userID string) (*Preferences, error) {
	if cached, ok := s.cache.get(userID); ok {
		return cached, nil
	}

	logger := telemetry.GetContextualLogger(ctx).WithField("user_id", userID)

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM preferences WHERE user_id = $1`, userID,
	).Scan(&raw)

	if err == sql.ErrNoRows {
		prefs := defaultPreferences(userID)
		if err := s.Save(ctx, prefs); err != nil {
			return nil, apperrors.NewPreferencesError("create_default", err)
		}
		return prefs, nil
	}
	if err != nil {
		logger.WithError(err).Error("failed to load preferences")
		return nil, apperrors.NewPreferencesError("get", err)
	}

	var row preferencesRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, apperrors.NewPreferencesError("decode", err)
	}

	prefs, err := s.decode(userID, row)
	if err != nil {
		return nil, err
	}
	s.cache.put(userID, prefs)
	return prefs, nil
}

func (s *PostgresPreferencesStore) decode(userID string, row preferencesRow) (*Preferences, error) {
	return &Preferences{
		UserID:          userID,
		ChannelsEnabled: row.ChannelsEnabled,
		PhoneEncrypted:  row.PhoneEncrypted,
		PhoneVerifiedAt: row.PhoneVerifiedAt,
		EmailEncrypted:  row.EmailEncrypted,
		EmailVerifiedAt: row.EmailVerifiedAt,
		Devices:         row.Devices,
		KindOverrides:   row.KindOverrides,
		QuietHours:      row.QuietHours,
		BudgetOverrides: row.BudgetOverrides,
		DoNotContact:    row.DoNotContact,
		DigestHourUTC:   row.DigestHourUTC,
		DigestEnabled:   row.DigestEnabled,
		DigestFrequency: row.DigestFrequency,
	}, nil
}

func (s *PostgresPreferencesStore) Save(ctx context.Context, prefs *Preferences) error {
	row := preferencesRow{
		ChannelsEnabled: prefs.ChannelsEnabled,
		PhoneEncrypted:  prefs.PhoneEncrypted,
		PhoneVerifiedAt: prefs.PhoneVerifiedAt,
		EmailEncrypted:  prefs.EmailEncrypted,
		EmailVerifiedAt: prefs.EmailVerifiedAt,
		Devices:         prefs.Devices,
		KindOverrides:   prefs.KindOverrides,
		QuietHours:      prefs.QuietHours,
		BudgetOverrides: prefs.BudgetOverrides,
		DoNotContact:    prefs.DoNotContact,
		DigestHourUTC:   prefs.DigestHourUTC,
		DigestEnabled:   prefs.DigestEnabled,
		DigestFrequency: prefs.DigestFrequency,
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return apperrors.NewPreferencesError("encode", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, document, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET document = EXCLUDED.document, updated_at = now()
	`, prefs.UserID, raw)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return apperrors.NewPreferencesError("save:"+string(pqErr.Code), err)
		}
		return apperrors.NewPreferencesError("save", err)
	}

	s.cache.invalidate(prefs.UserID)
	return nil
}

func (s *PostgresPreferencesStore) RegisterDevice(ctx context.Context, userID string, d Device) error {
	prefs, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	prefs.RegisterDevice(d)
	return s.Save(ctx, prefs)
}

func (s *PostgresPreferencesStore) SetBudgetOverride(ctx context.Context, userID string, channel Channel, override BudgetOverride) error {
	prefs, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if prefs.BudgetOverrides == nil {
		prefs.BudgetOverrides = make(map[Channel]BudgetOverride)
	}
	prefs.BudgetOverrides[channel] = override
	return s.Save(ctx, prefs)
}

func (s *PostgresPreferencesStore) Close() error {
	return nil
}

func defaultPreferences(userID string) *Preferences {
	return &Preferences{
		UserID: userID,
		ChannelsEnabled: map[Channel]bool{
			ChannelSocket: true,
			ChannelSMS:    true,
			ChannelEmail:  true,
			ChannelPush:   true,
		},
		KindOverrides:   map[Kind]KindOverride{},
		BudgetOverrides: map[Channel]BudgetOverride{},
		QuietHours:      QuietHours{Timezone: "UTC"},
		DigestHourUTC:   8,
		DigestEnabled:   true,
		DigestFrequency: FrequencyDaily,
	}
}

// prefsCache is the process-local read-through TTL cache for preferences
// documents. Writes invalidate immediately; reads fall through to the store
// on miss or expiry.
type prefsCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]prefsCacheEntry
}

type prefsCacheEntry struct {
	prefs     *Preferences
	expiresAt time.Time
}

func newPrefsCache(ttl time.Duration) *prefsCache {
	return &prefsCache{ttl: ttl, entries: make(map[string]prefsCacheEntry)}
}

func (c *prefsCache) get(userID string) (*Preferences, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[userID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.prefs, true
}

func (c *prefsCache) put(userID string, prefs *Preferences) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = prefsCacheEntry{prefs: prefs, expiresAt: time.Now().Add(c.ttl)}
}

func (c *prefsCache) invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}
