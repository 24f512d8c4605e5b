package types

import (
	"errors"
	"testing"
)

func TestVoice_IsValid(t *testing.T) {
	for _, v := range Voices() {
		if !v.IsValid() {
			t.Errorf("%q: expected valid", v)
		}
	}
	for _, bad := range []Voice{"", "ONYX", "ash", "robot"} {
		if bad.IsValid() {
			t.Errorf("%q: expected invalid", bad)
		}
	}
}

func TestVoice_Validate(t *testing.T) {
	if err := VoiceNova.Validate(); err != nil {
		t.Fatalf("nova: unexpected error: %v", err)
	}
	err := Voice("robot").Validate()
	if !errors.Is(err, ErrUnknownVoice) {
		t.Fatalf("robot: want ErrUnknownVoice, got %v", err)
	}
}

func TestParseVoice(t *testing.T) {
	tests := []struct {
		in      string
		want    Voice
		wantErr bool
	}{
		{in: "onyx", want: VoiceOnyx},
		{in: "  Shimmer.\n", want: VoiceShimmer},
		{in: `"fable"`, want: VoiceFable},
		{in: "baritone", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseVoice(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseVoice(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseVoice(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseVoice(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFindVoice(t *testing.T) {
	tests := []struct {
		in     string
		want   Voice
		wantOK bool
	}{
		{in: "I would pick Onyx for this character.", want: VoiceOnyx, wantOK: true},
		{in: "nova or maybe echo", want: VoiceNova, wantOK: true},
		{in: "The echoes of fable", want: VoiceFable, wantOK: true},
		{in: "no idea", wantOK: false},
	}
	for _, tc := range tests {
		got, ok := FindVoice(tc.in)
		if ok != tc.wantOK || got != tc.want {
			t.Errorf("FindVoice(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}
