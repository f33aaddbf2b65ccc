package service

import (
	"context"
	"errors"
	"testing"
)

// raceStore simulates a concurrent request binding the license between the
// read and the conditional update.
type raceStore struct {
	winner string
	binds  int
}

func (s *raceStore) BindHWID(ctx context.Context, licenseKey, hwid string) (bool, error) {
	s.binds++
	return false, nil
}

func (s *raceStore) LicenseHWID(ctx context.Context, licenseKey string) (string, error) {
	return s.winner, nil
}

func TestHWIDPolicyCheck(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	ctx := context.Background()
	l, err := env.keys.GenerateLicense(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	p := NewHWIDPolicy(env.store)

	got, err := p.Check(ctx, l.Key, "", "hw-1")
	if err != nil || got != HWIDBound {
		t.Fatalf("first check = %s, %v; want bound", got, err)
	}
	stored, _ := env.store.LicenseHWID(ctx, l.Key)
	if stored != "hw-1" {
		t.Fatalf("stored = %q, want hw-1", stored)
	}

	if got, _ := p.Check(ctx, l.Key, stored, "hw-1"); got != HWIDVerified {
		t.Errorf("same hardware = %s, want verified", got)
	}
	if got, _ := p.Check(ctx, l.Key, stored, "hw-2"); got != HWIDMismatch {
		t.Errorf("other hardware = %s, want mismatch", got)
	}
	// A stale empty read still cannot rebind.
	if got, _ := p.Check(ctx, l.Key, "", "hw-2"); got != HWIDMismatch {
		t.Errorf("stale read = %s, want mismatch", got)
	}
	if _, err := p.Check(ctx, l.Key, stored, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty fingerprint error = %v, want ErrValidation", err)
	}

	if err := env.catalog.ResetHWID(ctx, l.Key); err != nil {
		t.Fatal(err)
	}
	if got, _ := p.Check(ctx, l.Key, "", "hw-2"); got != HWIDBound {
		t.Errorf("after reset = %s, want bound", got)
	}
}

func TestHWIDPolicyLostRace(t *testing.T) {
	tests := []struct {
		name      string
		winner    string
		presented string
		want      HWIDResult
	}{
		{"same fingerprint won", "hw-1", "hw-1", HWIDVerified},
		{"other fingerprint won", "hw-1", "hw-2", HWIDMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &raceStore{winner: tt.winner}
			got, err := NewHWIDPolicy(st).Check(context.Background(), "KEY", "", tt.presented)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
			if st.binds != 1 {
				t.Errorf("binds = %d, want 1", st.binds)
			}
		})
	}
}
