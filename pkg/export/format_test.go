package export

import (
	"errors"
	"testing"
)

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		name     string
		explicit Format
		fileName string
		fallback Format
		want     Format
		wantErr  bool
	}{
		{name: "explicit wins over extension", explicit: CSV, fileName: "users.xlsx", want: CSV},
		{name: "explicit wins over fallback", explicit: JSON, fallback: CSV, want: JSON},
		{name: "extension inference", fileName: "users.csv", want: CSV},
		{name: "extension case-insensitive", fileName: "USERS.TSV", want: TSV},
		{name: "extension before fallback", fileName: "users.json", fallback: CSV, want: JSON},
		{name: "fallback when no extension", fileName: "users", fallback: CSV, want: CSV},
		{name: "fallback when unknown extension", fileName: "users.ods", fallback: XLSX, want: XLSX},
		{name: "nothing resolves", fileName: "users", wantErr: true},
		{name: "unknown explicit", explicit: Format("ods"), wantErr: true},
		{name: "empty everything", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveFormat(tt.explicit, tt.fileName, tt.fallback)
			if tt.wantErr {
				var fmtErr *UnresolvedFormatError
				if !errors.As(err, &fmtErr) {
					t.Fatalf("expected UnresolvedFormatError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveFormat() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestFormat_ExtensionBijection(t *testing.T) {
	seen := make(map[string]Format)
	for _, f := range Formats() {
		ext := f.Extension()
		if ext == "" {
			t.Fatalf("format %s has no extension", f)
		}
		if other, dup := seen[ext]; dup {
			t.Fatalf("extension %s maps to %s and %s", ext, other, f)
		}
		seen[ext] = f

		back, ok := FormatFromExtension("file." + ext)
		if !ok || back != f {
			t.Errorf("extension %s: expected %s, got %s", ext, f, back)
		}
		if f.ContentType() == "" {
			t.Errorf("format %s has no content type", f)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "xlsx", want: XLSX},
		{in: ".CSV", want: CSV},
		{in: " tsv ", want: TSV},
		{in: "Json", want: JSON},
		{in: "ods", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				if !IsUnresolvedFormat(err) {
					t.Errorf("expected UnresolvedFormatError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFormat() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestFormat_ContentTypes(t *testing.T) {
	if CSV.ContentType() != "text/csv" {
		t.Errorf("unexpected csv content type %s", CSV.ContentType())
	}
	if XLSX.ContentType() != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("unexpected xlsx content type %s", XLSX.ContentType())
	}
	if DefaultFormat != XLSX {
		t.Errorf("expected xlsx default, got %s", DefaultFormat)
	}
}
