package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/V4T54L/postbus/internal/domain"
	"github.com/V4T54L/postbus/internal/domain/mocks"
)

func TestTenantConfigResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty ID", func(t *testing.T) {
		r := NewTenantConfigResolver(&mocks.MockTenantRepository{}, discardLogger())
		if _, err := r.Resolve(ctx, " "); !errors.Is(err, domain.ErrTenantNotFound) {
			t.Errorf("expected ErrTenantNotFound, got %v", err)
		}
	})

	t.Run("Lazy Default", func(t *testing.T) {
		repo := &mocks.MockTenantRepository{}
		r := NewTenantConfigResolver(repo, discardLogger())

		tenant, err := r.Resolve(ctx, "club-new")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p, ok := tenant.Policy.(domain.PerChannelPolicy)
		if !ok {
			t.Fatalf("expected per-channel policy, got %T", tenant.Policy)
		}
		for _, ch := range domain.AllChannels {
			if p.IsManaged(ch) {
				t.Errorf("expected %s to be unmanaged", ch)
			}
		}
		if len(repo.Stored) != 1 || repo.Stored[0].ID != "club-new" {
			t.Errorf("expected the default config to be persisted, got %+v", repo.Stored)
		}
	})

	t.Run("Lazy Default Survives Store Failure", func(t *testing.T) {
		repo := &mocks.MockTenantRepository{StoreErr: errors.New("read-only")}
		r := NewTenantConfigResolver(repo, discardLogger())

		if _, err := r.Resolve(ctx, "club-new"); err != nil {
			t.Errorf("expected default tenant despite store failure, got %v", err)
		}
	})

	t.Run("Legacy Record Is Migrated", func(t *testing.T) {
		repo := &mocks.MockTenantRepository{Records: map[string]domain.TenantRecord{
			"club-old": {ID: "club-old", ManagedChannels: []string{"YT", "ig", "bogus"}},
		}}
		r := NewTenantConfigResolver(repo, discardLogger())

		tenant, err := r.Resolve(ctx, "club-old")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p := tenant.Policy.(domain.PerChannelPolicy)
		if !p.IsManaged(domain.ChannelYouTube) || !p.IsManaged(domain.ChannelInstagram) || p.IsManaged(domain.ChannelFacebook) {
			t.Errorf("unexpected managed map %v", p.Managed)
		}
		if len(repo.Stored) != 1 || repo.Stored[0].ManagedChannels != nil || repo.Stored[0].Mode != domain.PolicyModePerChannel {
			t.Errorf("expected the migrated record to be written back, got %+v", repo.Stored)
		}
	})

	t.Run("Legacy Webhook Becomes Aggregator", func(t *testing.T) {
		repo := &mocks.MockTenantRepository{Records: map[string]domain.TenantRecord{
			"club-hook": {ID: "club-hook", WebhookURL: "https://hooks.example.com/x"},
		}}
		r := NewTenantConfigResolver(repo, discardLogger())

		tenant, _ := r.Resolve(ctx, "club-hook")
		if p, ok := tenant.Policy.(domain.AggregatorPolicy); !ok || p.WebhookURL != "https://hooks.example.com/x" {
			t.Errorf("expected aggregator policy, got %#v", tenant.Policy)
		}
	})

	t.Run("Repository Error", func(t *testing.T) {
		repo := &mocks.MockTenantRepository{FindErr: errors.New("timeout")}
		r := NewTenantConfigResolver(repo, discardLogger())
		if _, err := r.Resolve(ctx, "club-a"); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestTenantConfigResolver_Update(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		upd     TenantUpdate
		wantErr bool
		check   func(t *testing.T, tenant *domain.Tenant)
	}{
		{
			name: "switch to aggregator",
			upd:  TenantUpdate{Mode: domain.PolicyModeAggregator, WebhookURL: "https://hooks.example.com/a"},
			check: func(t *testing.T, tenant *domain.Tenant) {
				if tenant.Policy.Mode() != domain.PolicyModeAggregator {
					t.Errorf("expected aggregator mode, got %s", tenant.Policy.Mode())
				}
			},
		},
		{
			name: "per channel with credentials",
			upd: TenantUpdate{
				Mode:        domain.PolicyModePerChannel,
				Managed:     map[domain.Channel]bool{domain.ChannelFacebook: true},
				Credentials: map[domain.Channel]domain.Credentials{domain.ChannelFacebook: {AccessToken: "tok"}},
			},
			check: func(t *testing.T, tenant *domain.Tenant) {
				if tenant.Credentials[domain.ChannelFacebook].AccessToken != "tok" {
					t.Errorf("expected credentials to be stored")
				}
				if tenant.Name != "club-a" {
					t.Errorf("expected name to be kept, got %q", tenant.Name)
				}
			},
		},
		{name: "aggregator without webhook", upd: TenantUpdate{Mode: domain.PolicyModeAggregator}, wantErr: true},
		{name: "unknown mode", upd: TenantUpdate{Mode: "broadcast"}, wantErr: true},
		{
			name:    "unknown channel",
			upd:     TenantUpdate{Mode: domain.PolicyModePerChannel, Managed: map[domain.Channel]bool{"myspace": true}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewTenantConfigResolver(&mocks.MockTenantRepository{}, discardLogger())
			tenant, err := r.Update(ctx, "club-a", tt.upd)
			if tt.wantErr {
				var verr *domain.ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, tenant)
		})
	}
}
