package pack

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseManifest(t *testing.T) {
	data := []byte(`[
		{"name": "1cbs", "inputs": ["maps/1cbs_2fofc.ccp4", "maps/1cbs_fofc.ccp4"], "output": "out/1cbs.mdb", "periodic": true},
		{"name": "emd-8003", "inputs": ["/data/emd-8003.map"], "output": "gs://density/em/emd-8003.mdb", "blockSize": 64}
	]`)
	jobs, err := ParseManifest(data, "/work")
	if err != nil {
		t.Fatal(err)
	}
	want := []Job{
		{Name: "1cbs", Inputs: []string{"/work/maps/1cbs_2fofc.ccp4", "/work/maps/1cbs_fofc.ccp4"}, Output: "/work/out/1cbs.mdb", Periodic: true},
		{Name: "emd-8003", Inputs: []string{"/data/emd-8003.map"}, Output: "gs://density/em/emd-8003.mdb", BlockSize: 64},
	}
	if diff := cmp.Diff(want, jobs); diff != "" {
		t.Errorf("jobs mismatch (-want +got):\n%s", diff)
	}
}

func TestParseManifestInvalid(t *testing.T) {
	bad := []string{
		`{"name": "x"}`,
		`[{"name": "x", "inputs": [], "output": "x.mdb"}]`,
		`[{"name": "x", "inputs": ["a"], "output": "x.mdb", "blockSize": 0}]`,
		`[{"name": "x", "inputs": ["a"], "output": "x.mdb", "color": "red"}]`,
		`[{"name": "x", "inputs": ["a"], "output": "x.mdb"}, {"name": "x", "inputs": ["b"], "output": "y.mdb"}]`,
		`not json`,
	}
	for _, m := range bad {
		if _, err := ParseManifest([]byte(m), ""); err == nil {
			t.Errorf("expected error for manifest %s", m)
		}
	}
}
