package systole

import (
	"testing"
)

func TestFillEnvVar(t *testing.T) {

	t.Run("returns a default value", func(t *testing.T) {
		ev := "SYSTOLE_ANYTHING_UNSET"
		want := "ENOENT"
		got := FillEnvVar(ev)

		assertString(t, got, want)
	})

	t.Run("returns a set value", func(t *testing.T) {
		ev := "SYSTOLE_TEST_TOKEN"
		want := "ghp_1q2w3e4r5t6y7u8i9o0p"
		t.Setenv(ev, want)

		got := FillEnvVar(ev)
		assertString(t, got, want)
	})
}

func TestFillEnvVarInt(t *testing.T) {
	ev := "SYSTOLE_TEST_INT"

	t.Run("returns the default when unset", func(t *testing.T) {
		if got := FillEnvVarInt(ev, 7); got != 7 {
			t.Errorf("got %d, want 7", got)
		}
	})

	t.Run("parses a set value", func(t *testing.T) {
		t.Setenv(ev, " 42 ")
		if got := FillEnvVarInt(ev, 7); got != 42 {
			t.Errorf("got %d, want 42", got)
		}
	})

	t.Run("falls back on garbage", func(t *testing.T) {
		t.Setenv(ev, "forty-two")
		if got := FillEnvVarInt(ev, 7); got != 7 {
			t.Errorf("got %d, want 7", got)
		}
	})
}

func TestFillEnvVarFloat(t *testing.T) {
	ev := "SYSTOLE_TEST_FLOAT"

	t.Run("parses a set value", func(t *testing.T) {
		t.Setenv(ev, "29.97")
		if got := FillEnvVarFloat(ev, 30); got != 29.97 {
			t.Errorf("got %v, want 29.97", got)
		}
	})

	t.Run("rejects NaN", func(t *testing.T) {
		t.Setenv(ev, "NaN")
		if got := FillEnvVarFloat(ev, 30); got != 30 {
			t.Errorf("got %v, want 30", got)
		}
	})
}

func TestFloatPrecise(t *testing.T) {
	tests := []struct {
		in   float64
		dec  int
		want float64
	}{
		{72.456, 1, 72.5},
		{0.83333, 2, 0.83},
		{60, 0, 60},
	}
	for _, tt := range tests {
		if got := FloatPrecise(tt.in, tt.dec); got != tt.want {
			t.Errorf("FloatPrecise(%v, %d) = %v, want %v", tt.in, tt.dec, got, tt.want)
		}
	}
}

func assertString(t *testing.T, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
