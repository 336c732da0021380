package session

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBannerDecoder(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantBanner   string
		wantConsumed int
		wantErr      error
	}{
		{
			name:         "complete line with CRLF",
			input:        "SSH-2.0-OpenSSH_8.4\r\nextra",
			wantBanner:   "SSH-2.0-OpenSSH_8.4",
			wantConsumed: 21,
			wantErr:      nil,
		},
		{
			name:         "complete line with bare LF",
			input:        "SSH-2.0-dropbear\n",
			wantBanner:   "SSH-2.0-dropbear",
			wantConsumed: 17,
			wantErr:      nil,
		},
		{
			name:         "incomplete line consumes nothing",
			input:        "SSH-2.0-OpenSS",
			wantBanner:   "",
			wantConsumed: 0,
			wantErr:      nil,
		},
		{
			name:         "empty input",
			input:        "",
			wantBanner:   "",
			wantConsumed: 0,
			wantErr:      nil,
		},
		{
			name:         "no newline within the limit",
			input:        strings.Repeat("A", 130),
			wantBanner:   "",
			wantConsumed: 0,
			wantErr:      ErrTooLargeBanner,
		},
		{
			name:         "newline just past the limit",
			input:        strings.Repeat("A", 128) + "\n",
			wantBanner:   "",
			wantConsumed: 0,
			wantErr:      ErrTooLargeBanner,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bd := &bannerDecoder{}
			banner, consumed, err := bd.feed([]byte(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
			if banner != tt.wantBanner {
				t.Errorf("banner: got %q, want %q", banner, tt.wantBanner)
			}
			if consumed != tt.wantConsumed {
				t.Errorf("consumed: got %d, want %d", consumed, tt.wantConsumed)
			}
		})
	}

	t.Run("split delivery", func(t *testing.T) {
		bd := &bannerDecoder{}
		full := []byte("SSH-2.0-OpenSSH_8.4\r\n")
		for i := 0; i < len(full)-1; i++ {
			banner, consumed, err := bd.feed(full[:i])
			if err != nil || banner != "" || consumed != 0 {
				t.Fatalf("unexpected result at %d: %q %d %v", i, banner, consumed, err)
			}
		}
		banner, consumed, err := bd.feed(full)
		if err != nil {
			t.Fatal(err)
		}
		if banner != "SSH-2.0-OpenSSH_8.4" || consumed != len(full) {
			t.Fatalf("unexpected result: %q %d", banner, consumed)
		}
	})
}

func TestAnalyzeBanner(t *testing.T) {
	tests := []struct {
		name    string
		banner  string
		want    *bannerInfo
		wantErr error
	}{
		{
			name:    "version two",
			banner:  "SSH-2.0-OpenSSH_7.9p1 Debian-10+deb10u2",
			want:    &bannerInfo{speaksV2: true, opensshVersion: 7<<16 | 9<<8},
			wantErr: nil,
		},
		{
			name:    "version one",
			banner:  "SSH-1.5-ancient",
			want:    &bannerInfo{speaksV1: true},
			wantErr: nil,
		},
		{
			name:    "the 1.99 dialect speaks both",
			banner:  "SSH-1.99-somessh",
			want:    &bannerInfo{speaksV1: true, speaksV2: true},
			wantErr: nil,
		},
		{
			name:    "not an ssh greeting",
			banner:  "HTTP/1.1 400 Bad Request",
			want:    nil,
			wantErr: ErrProtocolMismatch,
		},
		{
			name:    "truncated greeting",
			banner:  "SSH-",
			want:    nil,
			wantErr: ErrProtocolMismatch,
		},
		{
			name:    "unknown major version",
			banner:  "SSH-3.0-futuristic",
			want:    nil,
			wantErr: ErrProtocolMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := analyzeBanner(tt.banner)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(info, tt.want, cmp.AllowUnexported(bannerInfo{})); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestParseOpenSSHVersion(t *testing.T) {
	tests := []struct {
		banner string
		want   int
	}{
		{"SSH-2.0-OpenSSH_8.4p1 Debian", 8<<16 | 4<<8},
		{"SSH-2.0-OpenSSH_7.9", 7<<16 | 9<<8},
		{"SSH-2.0-OpenSSH_9.6p1 Ubuntu-3ubuntu13", 9<<16 | 6<<8},
		{"SSH-2.0-dropbear_2020.81", 0},
		{"SSH-2.0-OpenSSH_", 0},
		{"SSH-2.0-OpenSSH_x.y", 0},
		{"SSH-2.0-OpenSSH_8", 0},
	}
	for _, tt := range tests {
		t.Run(tt.banner, func(t *testing.T) {
			if got := parseOpenSSHVersion(tt.banner); got != tt.want {
				t.Errorf("got %#x, want %#x", got, tt.want)
			}
		})
	}
}
