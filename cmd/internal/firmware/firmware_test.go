package firmware

import (
	"context"
	"testing"
)

func TestVersionText(t *testing.T) {
	t.Parallel()

	v := Version{Version: "2.1.0", URL: "https://lab.example.edu/fw/2.1.0.bin", Hash: "ab12"}
	want := "2.1.0\nhttps://lab.example.edu/fw/2.1.0.bin\nab12\n"
	if got := v.Text(); got != want {
		t.Fatalf("Text()=%q want=%q", got, want)
	}

	// Unpublished renders as three empty lines so board parsers stay simple.
	if got := (Version{}).Text(); got != "\n\n\n" {
		t.Fatalf("zero Text()=%q want three empty lines", got)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	if _, ok, err := s.Get(ctx); err != nil || ok {
		t.Fatalf("fresh store Get ok=%v err=%v, want unset", ok, err)
	}

	v := Version{Version: "2.1.0", URL: "https://lab.example.edu/fw/2.1.0.bin", Hash: "ab12"}
	if err := s.Set(ctx, v); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := s.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("Get ok=%v err=%v, want published release", ok, err)
	}
	if got != v {
		t.Fatalf("Get=%+v want=%+v", got, v)
	}

	// A later publish replaces the earlier one.
	v2 := Version{Version: "2.2.0", URL: "https://lab.example.edu/fw/2.2.0.bin", Hash: "cd34"}
	if err := s.Set(ctx, v2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _, _ := s.Get(ctx); got != v2 {
		t.Fatalf("Get=%+v want replaced release %+v", got, v2)
	}
}
