package domain

import (
	"strings"
	"time"
)

// Credentials is an opaque per-channel secret bundle.
type Credentials struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	WebhookURL   string `json:"webhook_url,omitempty"`
}

// PolicyMode names the routing policy a tenant is configured with.
type PolicyMode string

const (
	PolicyModeAggregator PolicyMode = "aggregator"
	PolicyModePerChannel PolicyMode = "per_channel"
)

// Policy decides how a tenant's jobs are routed. It is either an
// AggregatorPolicy or a PerChannelPolicy.
type Policy interface {
	Mode() PolicyMode
}

// AggregatorPolicy forwards every channel of a job to one tenant webhook.
type AggregatorPolicy struct {
	WebhookURL string
}

func (AggregatorPolicy) Mode() PolicyMode { return PolicyModeAggregator }

// PerChannelPolicy routes each channel to its direct adapter.
type PerChannelPolicy struct {
	Managed map[Channel]bool
}

func (PerChannelPolicy) Mode() PolicyMode { return PolicyModePerChannel }

// IsManaged reports whether the tenant has the channel wired for direct publishing.
func (p PerChannelPolicy) IsManaged(ch Channel) bool {
	return p.Managed[ch]
}

// Tenant is an isolated club account.
type Tenant struct {
	ID          string
	Name        string
	Locale      string
	Timezone    string
	Policy      Policy
	Credentials map[Channel]Credentials
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewDefaultTenant builds the configuration a never-configured tenant resolves to.
func NewDefaultTenant(id string, now time.Time) *Tenant {
	managed := make(map[Channel]bool, len(AllChannels))
	for _, ch := range AllChannels {
		managed[ch] = false
	}
	return &Tenant{
		ID:          id,
		Name:        id,
		Locale:      "en",
		Timezone:    "UTC",
		Policy:      PerChannelPolicy{Managed: managed},
		Credentials: map[Channel]Credentials{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TenantRecord is the persisted shape of a tenant. ManagedChannels is the
// legacy list form of Managed and is migrated away on read.
type TenantRecord struct {
	ID              string                  `json:"id"`
	Name            string                  `json:"name"`
	Locale          string                  `json:"locale,omitempty"`
	Timezone        string                  `json:"timezone,omitempty"`
	Mode            PolicyMode              `json:"mode,omitempty"`
	WebhookURL      string                  `json:"webhook_url,omitempty"`
	Managed         map[Channel]bool        `json:"managed,omitempty"`
	ManagedChannels []string                `json:"managed_channels,omitempty"`
	Credentials     map[Channel]Credentials `json:"credentials,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// Migrate upgrades legacy records in place and reports whether anything changed.
// Records without a mode are aggregator tenants when a webhook is set; the
// managed_channels list becomes the managed map; an aggregator record without a
// webhook falls back to per-channel routing.
func (r *TenantRecord) Migrate() bool {
	changed := false
	if r.Mode == "" {
		if strings.TrimSpace(r.WebhookURL) != "" {
			r.Mode = PolicyModeAggregator
		} else {
			r.Mode = PolicyModePerChannel
		}
		changed = true
	}
	if r.Mode == PolicyModeAggregator && strings.TrimSpace(r.WebhookURL) == "" {
		r.Mode = PolicyModePerChannel
		changed = true
	}
	if len(r.ManagedChannels) > 0 {
		if r.Managed == nil {
			r.Managed = make(map[Channel]bool, len(r.ManagedChannels))
		}
		for _, name := range r.ManagedChannels {
			if ch, ok := ParseChannel(strings.ToLower(strings.TrimSpace(name))); ok {
				r.Managed[ch] = true
			}
		}
		r.ManagedChannels = nil
		changed = true
	}
	return changed
}

// Tenant converts a migrated record into the domain model.
func (r TenantRecord) Tenant() *Tenant {
	t := &Tenant{
		ID:          r.ID,
		Name:        r.Name,
		Locale:      r.Locale,
		Timezone:    r.Timezone,
		Credentials: r.Credentials,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if t.Credentials == nil {
		t.Credentials = map[Channel]Credentials{}
	}
	if r.Mode == PolicyModeAggregator {
		t.Policy = AggregatorPolicy{WebhookURL: r.WebhookURL}
		return t
	}
	managed := make(map[Channel]bool, len(r.Managed))
	for ch, on := range r.Managed {
		managed[ch] = on
	}
	t.Policy = PerChannelPolicy{Managed: managed}
	return t
}

// RecordFromTenant flattens a tenant for storage.
func RecordFromTenant(t *Tenant) TenantRecord {
	rec := TenantRecord{
		ID:          t.ID,
		Name:        t.Name,
		Locale:      t.Locale,
		Timezone:    t.Timezone,
		Credentials: t.Credentials,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	switch p := t.Policy.(type) {
	case AggregatorPolicy:
		rec.Mode = PolicyModeAggregator
		rec.WebhookURL = p.WebhookURL
	case PerChannelPolicy:
		rec.Mode = PolicyModePerChannel
		rec.Managed = p.Managed
	}
	return rec
}
