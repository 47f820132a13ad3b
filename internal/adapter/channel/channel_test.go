package channel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/V4T54L/postbus/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:     2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		RequestTimeout: time.Second,
	}
}

func managedTenant(ch domain.Channel, creds domain.Credentials) *domain.Tenant {
	return &domain.Tenant{
		ID:          "club-a",
		Policy:      domain.PerChannelPolicy{Managed: map[domain.Channel]bool{ch: true}},
		Credentials: map[domain.Channel]domain.Credentials{ch: creds},
	}
}

func publishRequest(ch domain.Channel) domain.PublishRequest {
	return domain.PublishRequest{JobID: "job-1", Channel: ch, Template: "goal", Caption: "GOAL!", Data: map[string]any{"player": "Kerr"}}
}

func TestDirectAdapter_Publish(t *testing.T) {
	var gotAuth string
	var gotPayload directPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"fb-post-42"}`))
	}))
	defer srv.Close()

	a := NewDirectAdapter(domain.ChannelFacebook, srv.URL, testConfig(), testLogger())
	conf, err := a.Publish(context.Background(), managedTenant(domain.ChannelFacebook, domain.Credentials{AccessToken: "tok"}), publishRequest(domain.ChannelFacebook))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if conf.PostID != "fb-post-42" {
		t.Errorf("expected post id from response, got %q", conf.PostID)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotPayload.Tenant != "club-a" || gotPayload.Caption != "GOAL!" {
		t.Errorf("unexpected payload %+v", gotPayload)
	}
}

func TestDirectAdapter_ErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		tenant   *domain.Tenant
		endpoint bool
		status   int
		want     domain.ErrorKind
	}{
		{"unmanaged channel", &domain.Tenant{ID: "club-a", Policy: domain.PerChannelPolicy{}}, true, http.StatusOK, domain.KindUnconfigured},
		{"aggregator tenant", &domain.Tenant{ID: "club-a", Policy: domain.AggregatorPolicy{WebhookURL: "x"}}, true, http.StatusOK, domain.KindUnconfigured},
		{"missing token", managedTenant(domain.ChannelInstagram, domain.Credentials{}), true, http.StatusOK, domain.KindUnconfigured},
		{"no endpoint", managedTenant(domain.ChannelInstagram, domain.Credentials{AccessToken: "tok"}), false, http.StatusOK, domain.KindNotImplemented},
		{"token rejected", managedTenant(domain.ChannelInstagram, domain.Credentials{AccessToken: "tok"}), true, http.StatusUnauthorized, domain.KindUnconfigured},
		{"upstream not implemented", managedTenant(domain.ChannelInstagram, domain.Credentials{AccessToken: "tok"}), true, http.StatusNotImplemented, domain.KindNotImplemented},
		{"bad request", managedTenant(domain.ChannelInstagram, domain.Credentials{AccessToken: "tok"}), true, http.StatusBadRequest, domain.KindFatal},
		{"server error", managedTenant(domain.ChannelInstagram, domain.Credentials{AccessToken: "tok"}), true, http.StatusBadGateway, domain.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			endpoint := ""
			if tt.endpoint {
				endpoint = srv.URL
			}
			a := NewDirectAdapter(domain.ChannelInstagram, endpoint, testConfig(), testLogger())
			_, err := a.Publish(context.Background(), tt.tenant, publishRequest(domain.ChannelInstagram))
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := domain.KindOf(err); got != tt.want {
				t.Errorf("expected kind %s, got %s (%v)", tt.want, got, err)
			}
		})
	}
}

func TestDirectAdapter_RetriesTransientFailures(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"post_id":"yt-9"}`))
	}))
	defer srv.Close()

	a := NewDirectAdapter(domain.ChannelYouTube, srv.URL, testConfig(), testLogger())
	conf, err := a.Publish(context.Background(), managedTenant(domain.ChannelYouTube, domain.Credentials{AccessToken: "tok"}), publishRequest(domain.ChannelYouTube))
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if conf.PostID != "yt-9" {
		t.Errorf("unexpected post id %q", conf.PostID)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestDirectAdapter_DoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	a := NewDirectAdapter(domain.ChannelX, srv.URL, testConfig(), testLogger())
	_, _ = a.Publish(context.Background(), managedTenant(domain.ChannelX, domain.Credentials{AccessToken: "tok"}), publishRequest(domain.ChannelX))
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestDirectAdapter_CredentialWebhook(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("Authorization") != "" {
			t.Errorf("webhook delivery must not carry a bearer token")
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a := NewDirectAdapter(domain.ChannelTikTok, "", testConfig(), testLogger())
	if _, err := a.Publish(context.Background(), managedTenant(domain.ChannelTikTok, domain.Credentials{WebhookURL: srv.URL}), publishRequest(domain.ChannelTikTok)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected the credential webhook to be called once")
	}
}

func TestDirectAdapter_TenantWebhookFailuresAreIsolated(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.BreakerFailures = 2
	cfg.BreakerWindow = 2
	cfg.BreakerDelay = time.Minute
	a := NewDirectAdapter(domain.ChannelFacebook, "", cfg, testLogger())

	bad := managedTenant(domain.ChannelFacebook, domain.Credentials{WebhookURL: broken.URL})
	bad.ID = "bad-club"
	for i := 0; i < 10; i++ {
		_, err := a.Publish(context.Background(), bad, publishRequest(domain.ChannelFacebook))
		if kind := domain.KindOf(err); kind != domain.KindTransient {
			t.Fatalf("call %d: expected transient failure, got %v", i+1, err)
		}
	}

	good := managedTenant(domain.ChannelFacebook, domain.Credentials{WebhookURL: healthy.URL})
	good.ID = "good-club"
	if _, err := a.Publish(context.Background(), good, publishRequest(domain.ChannelFacebook)); err != nil {
		t.Fatalf("another tenant's webhook failures must not block good-club: %v", err)
	}
}

func TestDirectAdapter_PlatformBreakerOpens(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.BreakerFailures = 2
	cfg.BreakerWindow = 2
	cfg.BreakerDelay = time.Minute
	a := NewDirectAdapter(domain.ChannelFacebook, srv.URL, cfg, testLogger())
	tenant := managedTenant(domain.ChannelFacebook, domain.Credentials{AccessToken: "tok"})

	for i := 0; i < 5; i++ {
		_, _ = a.Publish(context.Background(), tenant, publishRequest(domain.ChannelFacebook))
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("expected the breaker to stop calls to the platform after 2 failures, got %d calls", got)
	}
}

func TestAggregatorAdapter_Publish(t *testing.T) {
	var got aggregatorPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAggregatorAdapter(testConfig(), testLogger())
	tenant := &domain.Tenant{ID: "club-legacy", Policy: domain.AggregatorPolicy{WebhookURL: srv.URL}}
	if _, err := a.Publish(context.Background(), tenant, publishRequest(domain.ChannelYouTube)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Tenant != "club-legacy" || got.Channel != domain.ChannelYouTube || got.Template != "goal" || got.JobID != "job-1" {
		t.Errorf("unexpected payload %+v", got)
	}
	if got.Data["player"] != "Kerr" {
		t.Errorf("expected job data to be forwarded, got %v", got.Data)
	}

	perChannel := &domain.Tenant{ID: "club-a", Policy: domain.PerChannelPolicy{}}
	if _, err := a.Publish(context.Background(), perChannel, publishRequest(domain.ChannelYouTube)); domain.KindOf(err) != domain.KindUnconfigured {
		t.Errorf("expected unconfigured for a tenant without webhook, got %v", err)
	}
}

func TestNewAdapterSet(t *testing.T) {
	set := NewAdapterSet(map[domain.Channel]string{domain.ChannelFacebook: "http://fb.internal/publish"}, testConfig(), testLogger())
	if set.Aggregator == nil {
		t.Fatal("expected an aggregator adapter")
	}
	for _, ch := range domain.AllChannels {
		if _, ok := set.For(ch); !ok {
			t.Errorf("expected a direct adapter for %s", ch)
		}
	}
}
