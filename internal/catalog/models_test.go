package catalog

import (
	"errors"
	"reflect"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		root    string
		abs     string
		want    string
		wantErr bool
	}{
		{"simple", "/photos", "/photos/trips/a.jpg", "trips/a.jpg", false},
		{"root itself", "/photos", "/photos", "", false},
		{"trailing slash root", "/photos/", "/photos/a.jpg", "a.jpg", false},
		{"escape", "/photos", "/etc/passwd", "", true},
		{"dotdot escape", "/photos", "/photos/../secrets", "", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizePath(tt.root, tt.abs)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("NormalizePath(%q, %q) err = %v, want ErrValidation", tt.root, tt.abs, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizePath(%q, %q) error: %v", tt.root, tt.abs, err)
			}
			if got != tt.want {
				t.Errorf("NormalizePath(%q, %q) = %q, want %q", tt.root, tt.abs, got, tt.want)
			}
		})
	}
}

func TestValidateRelPath(t *testing.T) {
	t.Parallel()

	valid := []string{"a.jpg", "trips/a.jpg", "trips/nested/deep.mp4"}
	for _, p := range valid {
		if err := ValidateRelPath(p); err != nil {
			t.Errorf("ValidateRelPath(%q) = %v, want nil", p, err)
		}
	}

	invalid := []string{"", "/abs", "\\win", "../up", "a/../b", "a/./b", "a//b"}
	for _, p := range invalid {
		if err := ValidateRelPath(p); !errors.Is(err, ErrValidation) {
			t.Errorf("ValidateRelPath(%q) = %v, want ErrValidation", p, err)
		}
	}
}

func TestParentAlbums(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rel  string
		want []string
	}{
		{"a.jpg", []string{""}},
		{"trips/a.jpg", []string{"trips", ""}},
		{"trips/2024/beach/a.jpg", []string{"trips/2024/beach", "trips/2024", "trips", ""}},
	}
	for _, tt := range tests {
		got := ParentAlbums(tt.rel)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParentAlbums(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

func TestInClause(t *testing.T) {
	t.Parallel()

	clause, args := InClause([]string{"a", "b", "c"})
	if clause != "(?,?,?)" {
		t.Errorf("InClause clause = %q", clause)
	}
	if len(args) != 3 || args[0] != "a" {
		t.Errorf("InClause args = %v", args)
	}

	clause, args = InClause(nil)
	if clause != "(NULL)" || args != nil {
		t.Errorf("InClause(nil) = %q, %v", clause, args)
	}
}

func TestLikePrefixEscapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rel  string
		want string
	}{
		{"trips", `trips/%`},
		{"100%_done", `100\%\_done/%`},
		{`back\slash`, `back\\slash/%`},
	}
	for _, tt := range tests {
		if got := likePrefix(tt.rel); got != tt.want {
			t.Errorf("likePrefix(%q) = %q, want %q", tt.rel, got, tt.want)
		}
	}
}
