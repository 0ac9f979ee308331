package app

import "testing"

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://lab.example.com", want: "wss://lab.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr == "" || cfg.WaitingQueue == "" || cfg.WorkingQueue == "" {
		t.Fatalf("missing defaults: %+v", cfg)
	}
	if cfg.ReconcileInterval <= 0 || cfg.SessionTTL <= 0 {
		t.Fatalf("non-positive interval defaults: %+v", cfg)
	}
}

func TestNewAppMemoryMode(t *testing.T) {
	t.Setenv("FPGALAB_DATABASE_URL", "")
	t.Setenv("FPGALAB_REDIS_URL", "")
	t.Setenv("FPGALAB_REQUIRE_TOKEN_HMAC", "false")

	cfg := LoadConfig()
	log := NewLogger("error", "json")

	a, err := New(cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.dbEnabled {
		t.Fatalf("db enabled without FPGALAB_DATABASE_URL")
	}
	if a.queue != nil {
		t.Fatalf("queue wired without FPGALAB_REDIS_URL")
	}
	if a.broker == nil || a.userGW == nil || a.boardGW == nil {
		t.Fatalf("core components missing: %+v", a)
	}
}
