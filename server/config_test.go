package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testConfig = `
[server]
httpAddress = "localhost:9123"
apiPrefix = "VolumeServer/"
maxConnections = 64
defaultDetail = 1

[logging]
logfile = "logs/density.log"
max_log_size = 100
max_log_age = 7
level = "debug"

[limits]
maxRequestBlockCount = 8

[cache]
header_mb = 16

[idmap]
X-Ray = "maps/xray/${id}.mdb"
em = "gs://density-bucket/em/${id}.mdb"
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(filename, []byte(testConfig), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	if c.HTTPAddress() != "localhost:9123" || c.Server.APIPrefix != "/VolumeServer" {
		t.Errorf("unexpected server config %+v", c.Server)
	}
	if c.Server.MaxConnections != 64 || c.Server.DefaultDetail != 1 || c.Cache.HeaderMB != 16 {
		t.Errorf("unexpected config %+v", c)
	}
	if c.Logging.Logfile != filepath.Join(dir, "logs/density.log") || c.Logging.Level != "debug" {
		t.Errorf("unexpected logging config %+v", c.Logging)
	}
	if c.Limits.MaxRequestBlockCount != 8 {
		t.Errorf("expected block count limit 8, got %d", c.Limits.MaxRequestBlockCount)
	}
	if c.Limits.MaxFractionalBoxVolume != 1024 || len(c.Limits.MaxOutputSizeInVoxelCountByPrecisionLevel) != 7 {
		t.Errorf("unset limits should keep defaults, got %+v", c.Limits)
	}
	want := map[string]string{
		"x-ray": filepath.Join(dir, "maps/xray/${id}.mdb"),
		"em":    "gs://density-bucket/em/${id}.mdb",
	}
	if diff := cmp.Diff(want, c.IDMap); diff != "" {
		t.Errorf("idmap mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(""); err == nil {
		t.Errorf("expected error without a config file")
	}
	filename := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(filename, []byte("[server\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(filename); err == nil {
		t.Errorf("expected error for malformed TOML")
	}
}

func TestMapFile(t *testing.T) {
	c := DefaultConfig()
	c.IDMap["em"] = "/data/em/${id}/${id}.mdb"
	ref, found := c.MapFile("em", "emd-1234")
	if !found || ref != "/data/em/emd-1234/emd-1234.mdb" {
		t.Errorf("got %q, %t", ref, found)
	}
	if ref, found := c.MapFile("EM", "EMD-1234"); !found || ref != "/data/em/emd-1234/emd-1234.mdb" {
		t.Errorf("expected case-insensitive match, got %q, %t", ref, found)
	}
	for _, tc := range []struct{ source, id string }{
		{"x-ray", "1cbs"},
		{"em", ""},
		{"em", "../secret"},
		{"em", "123456789012345678901234567890123"},
	} {
		if _, found := c.MapFile(tc.source, tc.id); found {
			t.Errorf("expected %s/%s to be unmapped", tc.source, tc.id)
		}
	}
}
