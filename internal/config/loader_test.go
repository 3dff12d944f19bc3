package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type testSecretProvider struct {
	values     map[string]string
	err        error
	calledWith []string
	callCount  int
}

func (p *testSecretProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	p.callCount++
	p.calledWith = append(p.calledWith, keys...)
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := p.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// setMinimalEnv sets every variable without a default.
func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "postgres://clubhouse:pw@localhost:5432/clubhouse")
	t.Setenv("MEDIA_BUCKET", "clubhouse-media")
	t.Setenv("SQS_NOTIFICATIONS", "http://localhost:4566/000000000000/notifications.fifo")
	t.Setenv("ADMIN_API_KEY", "0123456789abcdef0123")
}

// testDeps uses the real environment but never reads a .env file and routes
// writes through t.Setenv so they are undone.
func testDeps(t *testing.T) loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv: func(k, v string) error {
			t.Setenv(k, v)
			return nil
		},
		environ: os.Environ,
	}
}

func assertConfigErrorType(t *testing.T, err error, want ConfigErrorType) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if cfgErr.Type != want {
		t.Errorf("expected error type %s, got %s (%v)", want, cfgErr.Type, err)
	}
}

func TestLoadConfigLocalDefaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := loadConfigWithDeps(nil, testDeps(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Environment != "local" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Database.MaxConns != 10 || cfg.Database.MinConns != 2 {
		t.Errorf("pool = %d/%d, want 10/2", cfg.Database.MaxConns, cfg.Database.MinConns)
	}
	if cfg.Observability.MetricNamespace != "Clubhouse" {
		t.Errorf("MetricNamespace = %q", cfg.Observability.MetricNamespace)
	}

	j := cfg.Jobs
	if j.Timezone != "UTC" {
		t.Errorf("Timezone = %q", j.Timezone)
	}
	if j.CacheSweepSchedule != "@every 1h" || j.CleanupSchedule != "0 3 * * *" {
		t.Errorf("schedules = %q, %q", j.CacheSweepSchedule, j.CleanupSchedule)
	}
	if j.PublishSchedule != "@every 5m" || j.StatusSchedule != "@every 5m" {
		t.Errorf("schedules = %q, %q", j.PublishSchedule, j.StatusSchedule)
	}
	if j.ReminderInterval != 10*time.Minute {
		t.Errorf("ReminderInterval = %s", j.ReminderInterval)
	}
	if j.MaxRetries != 3 || j.RetryDelay != 30*time.Second {
		t.Errorf("retry = %d/%s", j.MaxRetries, j.RetryDelay)
	}
	if j.RetentionDays != 30 || j.BatchSize != 1000 || j.MaxConcurrentDeletes != 10 {
		t.Errorf("cleanup = %d/%d/%d", j.RetentionDays, j.BatchSize, j.MaxConcurrentDeletes)
	}
	if j.ChunkPause != 100*time.Millisecond {
		t.Errorf("ChunkPause = %s", j.ChunkPause)
	}
	if j.SessionRetention != 7*24*time.Hour || j.DeviceTokenRetention != 90*24*time.Hour {
		t.Errorf("retention = %s/%s", j.SessionRetention, j.DeviceTokenRetention)
	}
	if j.PublishBatchSize != 500 {
		t.Errorf("PublishBatchSize = %d", j.PublishBatchSize)
	}
	if j.ReminderLookAhead != 24*time.Hour || j.ReminderTTL != 2*time.Hour {
		t.Errorf("reminders = %s/%s", j.ReminderLookAhead, j.ReminderTTL)
	}
	if cfg.Build.Version == "" {
		t.Error("Build.Version should be populated")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("JOBS_TIMEZONE", "America/New_York")
	t.Setenv("JOB_CLEANUP_SCHEDULE", "30 4 * * 1")
	t.Setenv("JOB_REMINDER_INTERVAL", "5m")
	t.Setenv("CLEANUP_BATCH_SIZE", "250")
	t.Setenv("PORT", "9090")

	cfg, err := loadConfigWithDeps(nil, testDeps(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Jobs.CleanupSchedule != "30 4 * * 1" {
		t.Errorf("CleanupSchedule = %q", cfg.Jobs.CleanupSchedule)
	}
	if cfg.Jobs.ReminderInterval != 5*time.Minute {
		t.Errorf("ReminderInterval = %s", cfg.Jobs.ReminderInterval)
	}
	if cfg.Jobs.BatchSize != 250 {
		t.Errorf("BatchSize = %d", cfg.Jobs.BatchSize)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %q", cfg.Server.Port)
	}
	if got := cfg.Jobs.Location().String(); got != "America/New_York" {
		t.Errorf("Location = %q", got)
	}
}

func TestLoadConfigValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"invalid environment", "APP_ENV", "qa"},
		{"bad cron", "JOB_CLEANUP_SCHEDULE", "every night"},
		{"bad timezone", "JOBS_TIMEZONE", "Mars/Olympus"},
		{"zero retries", "JOB_MAX_RETRIES", "0"},
		{"short admin key", "ADMIN_API_KEY", "short"},
		{"invalid queue url", "SQS_NOTIFICATIONS", "not a url"},
		{"sub-minute reminder interval", "JOB_REMINDER_INTERVAL", "30s"},
		{"ttl shorter than window", "REMINDER_DEDUP_TTL", "5m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setMinimalEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := loadConfigWithDeps(nil, testDeps(t))
			assertConfigErrorType(t, err, ErrValidation)
		})
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	setMinimalEnv(t)
	os.Unsetenv("ADMIN_API_KEY")

	_, err := loadConfigWithDeps(nil, testDeps(t))
	assertConfigErrorType(t, err, ErrValidation)
	if !strings.Contains(err.Error(), "AdminAPIKey") {
		t.Errorf("error should name the field: %v", err)
	}
}

func TestLoadConfigParsingFailure(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("CLEANUP_BATCH_SIZE", "lots")

	_, err := loadConfigWithDeps(nil, testDeps(t))
	assertConfigErrorType(t, err, ErrParsing)
}

func TestLoadConfigSSMResolution(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("APP_ENV", "prod")
	os.Unsetenv("ADMIN_API_KEY")
	os.Unsetenv("DATABASE_URL")
	t.Setenv("ADMIN_API_KEY_SSM_PARAM", "/prod/clubhouse/admin-key")
	t.Setenv("DATABASE_URL_SSM_PARAM", "/prod/clubhouse/database-url")

	provider := &testSecretProvider{values: map[string]string{
		"/prod/clubhouse/admin-key":    "resolved-admin-key-0123456789",
		"/prod/clubhouse/database-url": "postgres://prod:pw@db:5432/clubhouse",
	}}

	cfg, err := loadConfigWithDeps(provider, testDeps(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.callCount != 1 {
		t.Errorf("expected one batch call, got %d", provider.callCount)
	}
	if cfg.Security.AdminAPIKey.Unmask() != "resolved-admin-key-0123456789" {
		t.Error("admin key not resolved from SSM")
	}
	if cfg.Database.URL.Unmask() != "postgres://prod:pw@db:5432/clubhouse" {
		t.Error("database url not resolved from SSM")
	}
}

func TestLoadConfigSecretsFile(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("APP_ENV", "staging")
	os.Unsetenv("ADMIN_API_KEY")
	t.Setenv("ADMIN_API_KEY_SSM_PARAM", "/staging/clubhouse/admin-key")

	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`{"/staging/clubhouse/admin-key": "file-admin-key-0123456789"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	provider, err := LoadStaticProvider(path)
	if err != nil {
		t.Fatalf("LoadStaticProvider: %v", err)
	}

	cfg, err := loadConfigWithDeps(provider, testDeps(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Security.AdminAPIKey.Unmask() != "file-admin-key-0123456789" {
		t.Error("admin key not resolved from secrets file")
	}
}

func TestLoadStaticProviderErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadStaticProvider(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`["not", "an", "object"]`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadStaticProvider(bad); err == nil {
		t.Error("expected error for non-object JSON")
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte(`null`), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadStaticProvider(empty)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Error("expected empty provider, got nil")
	}
}

func TestLoadConfigSSMDirectEnvWins(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("APP_ENV", "staging")
	t.Setenv("ADMIN_API_KEY_SSM_PARAM", "/staging/clubhouse/admin-key")

	provider := &testSecretProvider{values: map[string]string{"/staging/clubhouse/admin-key": "from-ssm-0123456789"}}

	cfg, err := loadConfigWithDeps(provider, testDeps(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.callCount != 0 {
		t.Errorf("provider should not be called when the target is set, got %d calls", provider.callCount)
	}
	if cfg.Security.AdminAPIKey.Unmask() != "0123456789abcdef0123" {
		t.Error("direct env value should win over SSM")
	}
}

func TestLoadConfigSSMSkippedForLocal(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("MEDIA_BUCKET_SSM_PARAM", "/local/ignored")
	os.Unsetenv("MEDIA_BUCKET")

	provider := &testSecretProvider{}
	_, err := loadConfigWithDeps(provider, testDeps(t))
	assertConfigErrorType(t, err, ErrValidation)
	if provider.callCount != 0 {
		t.Errorf("provider called %d times in local mode", provider.callCount)
	}
}

func TestLoadConfigSSMFailures(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("APP_ENV", "dev")
		os.Unsetenv("MEDIA_BUCKET")
		t.Setenv("MEDIA_BUCKET_SSM_PARAM", "/dev/bucket")

		_, err := loadConfigWithDeps(&testSecretProvider{err: errors.New("throttled")}, testDeps(t))
		assertConfigErrorType(t, err, ErrSSMResolution)
	})

	t.Run("nil provider", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("APP_ENV", "dev")
		os.Unsetenv("MEDIA_BUCKET")
		t.Setenv("MEDIA_BUCKET_SSM_PARAM", "/dev/bucket")

		_, err := loadConfigWithDeps(nil, testDeps(t))
		assertConfigErrorType(t, err, ErrSSMResolution)
		if !strings.Contains(err.Error(), "MEDIA_BUCKET") {
			t.Errorf("error should name the unresolved variable: %v", err)
		}
	})

	t.Run("missing parameter", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("APP_ENV", "dev")
		os.Unsetenv("MEDIA_BUCKET")
		t.Setenv("MEDIA_BUCKET_SSM_PARAM", "/dev/bucket")

		_, err := loadConfigWithDeps(&testSecretProvider{values: map[string]string{}}, testDeps(t))
		assertConfigErrorType(t, err, ErrSSMResolution)
	})
}

func TestConfigErrorFormatting(t *testing.T) {
	inner := errors.New("boom")
	withErr := &ConfigError{Type: ErrParsing, Message: "bad", Err: inner}
	if withErr.Error() != "[PARSING_FAILED] bad: boom" {
		t.Errorf("Error() = %q", withErr.Error())
	}
	if !errors.Is(withErr, inner) {
		t.Error("Unwrap should expose the inner error")
	}

	bare := &ConfigError{Type: ErrMissingEnv, Message: "APP_ENV"}
	if bare.Error() != "[MISSING_ENV] APP_ENV" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestSchedulerConfigMapping(t *testing.T) {
	setMinimalEnv(t)
	cfg, err := loadConfigWithDeps(nil, testDeps(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sc := cfg.Jobs.SchedulerConfig()
	if sc.Location != time.UTC {
		t.Errorf("Location = %v", sc.Location)
	}
	if sc.Reminders.PollingInterval != cfg.Jobs.ReminderInterval {
		t.Errorf("PollingInterval = %s", sc.Reminders.PollingInterval)
	}
	if sc.ReminderSchedule() != "@every 10m0s" {
		t.Errorf("ReminderSchedule = %q", sc.ReminderSchedule())
	}
	if sc.Cleanup.BatchSize != 1000 || sc.PublishBatchSize != 500 {
		t.Errorf("batch sizes = %d/%d", sc.Cleanup.BatchSize, sc.PublishBatchSize)
	}
	if sc.JobTimeout != 15*time.Minute {
		t.Errorf("JobTimeout = %s", sc.JobTimeout)
	}
}

type mockSSMClient struct {
	params map[string]string
	calls  [][]string
	err    error
}

func (m *mockSSMClient) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	m.calls = append(m.calls, append([]string(nil), in.Names...))
	if m.err != nil {
		return nil, m.err
	}
	out := &ssm.GetParametersOutput{}
	for _, n := range in.Names {
		if v, ok := m.params[n]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(n), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, n)
		}
	}
	return out, nil
}

func TestSSMProviderBatches(t *testing.T) {
	client := &mockSSMClient{params: map[string]string{}}
	var paths []string
	for i := 0; i < 23; i++ {
		p := "/p/" + string(rune('a'+i))
		paths = append(paths, p)
		if i%2 == 0 {
			client.params[p] = "v" + p
		}
	}

	provider := newSSMProviderWithClient(client)
	got, err := provider.GetParametersBatch(context.Background(), paths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.calls) != 3 {
		t.Fatalf("expected 3 calls for 23 paths, got %d", len(client.calls))
	}
	if len(client.calls[2]) != 3 {
		t.Errorf("last batch size = %d, want 3", len(client.calls[2]))
	}
	if len(got) != 12 {
		t.Errorf("resolved %d params, want 12", len(got))
	}
	if got["/p/a"] != "v/p/a" {
		t.Errorf("value = %q", got["/p/a"])
	}
}

func TestSSMProviderError(t *testing.T) {
	provider := newSSMProviderWithClient(&mockSSMClient{err: errors.New("denied")})
	if _, err := provider.GetParametersBatch(context.Background(), []string{"/x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestStaticProvider(t *testing.T) {
	var p SecretProvider = StaticProvider{"/a": "1"}
	got, err := p.GetParametersBatch(context.Background(), []string{"/a", "/b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got["/a"] != "1" {
		t.Errorf("got %v", got)
	}
}
