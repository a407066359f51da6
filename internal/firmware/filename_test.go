package firmware

import (
	"errors"
	"testing"
)

func TestResolveFilename(t *testing.T) {
	tests := []struct {
		name   string
		header string
		url    string
		want   string
	}{
		{
			name:   "utf8 form",
			header: `attachment; filename*=UTF-8''fieldy%20v1.2.bin`,
			url:    "https://example.com/download?id=1",
			want:   "fieldy v1.2.bin",
		},
		{
			name:   "utf8 preferred over ascii",
			header: `attachment; filename="fallback.bin"; filename*=UTF-8''preferred.bin`,
			url:    "https://example.com/x",
			want:   "preferred.bin",
		},
		{
			name:   "quoted ascii",
			header: `attachment; filename="app.signed.bin"`,
			url:    "https://example.com/x",
			want:   "app.signed.bin",
		},
		{
			name:   "unquoted ascii",
			header: `attachment; filename=app.bin; size=10`,
			url:    "https://example.com/x",
			want:   "app.bin",
		},
		{
			name:   "case insensitive",
			header: `attachment; FILENAME="upper.bin"`,
			url:    "https://example.com/x",
			want:   "upper.bin",
		},
		{
			name:   "path traversal stripped",
			header: `attachment; filename="../../etc/passwd"`,
			url:    "https://example.com/x",
			want:   "passwd",
		},
		{
			name:   "windows separators stripped",
			header: `attachment; filename*=UTF-8''C%3A%5Cfw%5Cimage.bin`,
			url:    "https://example.com/x",
			want:   "image.bin",
		},
		{
			name: "url path fallback",
			url:  "https://cdn.example.com/releases/v2/fieldy-2.0.0.bin",
			want: "fieldy-2.0.0.bin",
		},
		{
			name: "url encoded path fallback",
			url:  "https://cdn.example.com/fw/my%20image.bin",
			want: "my image.bin",
		},
		{
			name: "default",
			url:  "https://cdn.example.com/",
			want: DefaultFilename,
		},
		{
			name:   "blank header name",
			header: `attachment; filename="   "`,
			url:    "https://cdn.example.com",
			want:   DefaultFilename,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveFilename(tt.header, tt.url); got != tt.want {
				t.Errorf("ResolveFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFirmwareURLFromQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    string
		wantErr error
	}{
		{
			name:  "firmwareUrl",
			query: "firmwareUrl=https%3A%2F%2Fexample.com%2Ffw.bin",
			want:  "https://example.com/fw.bin",
		},
		{
			name:  "firmware alias",
			query: "?firmware=https://example.com/fw.bin",
			want:  "https://example.com/fw.bin",
		},
		{
			name:  "trimmed",
			query: "firmwareUrl=%20https://example.com/fw.bin%20",
			want:  "https://example.com/fw.bin",
		},
		{
			name:  "double encoded",
			query: "firmwareUrl=https%253A%252F%252Fexample.com%252Ffw.bin",
			want:  "https://example.com/fw.bin",
		},
		{
			name:    "plain http rejected",
			query:   "firmwareUrl=http://example.com/fw.bin",
			wantErr: ErrInsecureSource,
		},
		{
			name:    "missing",
			query:   "other=1",
			wantErr: ErrNoFirmwareURL,
		},
		{
			name:    "empty",
			query:   "firmwareUrl=%20",
			wantErr: ErrNoFirmwareURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FirmwareURLFromQuery(tt.query)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFirmwareURLFromLink(t *testing.T) {
	got, err := FirmwareURLFromLink("https://update.example.com/?firmwareUrl=https%3A%2F%2Fcdn.example.com%2Fa.bin")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://cdn.example.com/a.bin" {
		t.Errorf("got %q", got)
	}
}

func TestCheckSecure(t *testing.T) {
	for _, u := range []string{"http://example.com/fw.bin", "ftp://example.com/fw.bin", "example.com/fw.bin", "https://"} {
		if err := CheckSecure(u); !errors.Is(err, ErrInsecureSource) {
			t.Errorf("CheckSecure(%q) = %v, want ErrInsecureSource", u, err)
		}
	}
	if err := CheckSecure("HTTPS://example.com/fw.bin"); err != nil {
		t.Errorf("CheckSecure(uppercase scheme) = %v", err)
	}
}
