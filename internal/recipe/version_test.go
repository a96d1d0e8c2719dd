package recipe

import (
	"reflect"
	"testing"
)

func TestVersionFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/ssotoa70/vframetest/archive/refs/tags/v3025.10.2.tar.gz", "3025.10.2"},
		{"https://ftp.gnu.org/gnu/make/make-4.4.1.tar.gz", "4.4.1"},
		{"https://example.com/dl/tool_2.0.tar.xz", "2.0"},
		{"https://example.com/dl/tool-1.0.0-rc1.tar.zst", "1.0.0-rc1"},
		{"https://example.com/dl/tool-7.zip", "7"},
		{"file:///srv/mirror/tool-0.9.1.tgz", "0.9.1"},
		{"https://example.com/dl/tool.tar.gz", ""},
		{"https://example.com/dl/latest", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := VersionFromURL(tt.url); got != tt.want {
				t.Fatalf("VersionFromURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		cmp  int
		ok   bool
	}{
		{"3025.10.2", "3025.9.14", 1, true},
		{"1.0", "1.0.0", 0, true},
		{"1.0.0-rc1", "1.0.0", -1, true},
		{"9e", "9d", 0, false},
		{"r1234", "1.0", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.a+"-"+tt.b, func(t *testing.T) {
			cmp, ok := CompareVersions(tt.a, tt.b)
			if cmp != tt.cmp || ok != tt.ok {
				t.Fatalf("CompareVersions = %d, %v, want %d, %v", cmp, ok, tt.cmp, tt.ok)
			}
		})
	}
}

func TestVarsExpand(t *testing.T) {
	v := Vars{Name: "tool", Version: "1.2", Prefix: "/opt/keg", BuildPath: "/tmp/b/src"}

	got := v.Expand([]string{"{{bin}}/tool", "--prefix={{prefix}}", "{{lib}}", "{{name}}-{{version}}", "{{buildpath}}/x y", "$(rm -rf /)"})
	want := []string{"/opt/keg/bin/tool", "--prefix=/opt/keg", "/opt/keg/lib", "tool-1.2", "/tmp/b/src/x y", "$(rm -rf /)"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expand = %q, want %q", got, want)
	}

	env := v.ExpandEnv(map[string]string{"DESTDIR": "{{prefix}}"})
	if env["DESTDIR"] != "/opt/keg" {
		t.Fatalf("ExpandEnv = %v", env)
	}
	if v.ExpandEnv(nil) != nil {
		t.Fatal("ExpandEnv(nil) should be nil")
	}
}
