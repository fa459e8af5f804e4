package types

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestSplitModuleFullName(t *testing.T) {
	tests := []struct {
		in   string
		addr string
		name string
		ok   bool
	}{
		{"0xabc::coin", "0xabc", "coin", true},
		{"0x1::vector", "0x1", "vector", true},
		{"0xabc::nested::name", "0xabc", "nested::name", true},
		{"noseparator", "", "", false},
		{"::coin", "", "", false},
		{"0xabc::", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range tests {
		addr, name, ok := SplitModuleFullName(tc.in)
		if addr != tc.addr || name != tc.name || ok != tc.ok {
			t.Errorf("SplitModuleFullName(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, addr, name, ok, tc.addr, tc.name, tc.ok)
		}
	}
}

func TestSentinelModuleFullName(t *testing.T) {
	got := SentinelModuleFullName("0xabc")
	if got != "0xabc::__package__" {
		t.Fatalf("SentinelModuleFullName = %q", got)
	}
	addr, name, ok := SplitModuleFullName(got)
	if !ok || addr != "0xabc" || name != SentinelModuleName {
		t.Fatalf("sentinel does not round-trip: (%q, %q, %v)", addr, name, ok)
	}
}

func TestSnapshotPackageAddressesFirstSeenOrder(t *testing.T) {
	snap := GraphSnapshot{Nodes: []GraphNode{
		{FullName: "0xbbb::m1"},
		{FullName: "0xaaa::m2"},
		{FullName: "0xbbb::m3"},
		{FullName: "malformed"},
	}}
	got := snap.PackageAddresses()
	want := []string{"0xbbb", "0xaaa"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PackageAddresses = %v, want %v", got, want)
	}
}

func TestAnalysisSnapshotDecode(t *testing.T) {
	raw, _ := json.Marshal(GraphSnapshot{
		Nodes: []GraphNode{{FullName: "0xaaa::m1", Functions: []GraphFunction{{Name: "mint", IsEntry: true}}}},
		Edges: []GraphEdge{{Source: "0xaaa::m1", Target: "0xaaa::m2"}},
	})
	a := Analysis{Graph: raw}
	snap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Nodes) != 1 || snap.Nodes[0].Functions[0].Name != "mint" {
		t.Fatalf("snapshot = %+v", snap)
	}

	empty := Analysis{}
	snap, err = empty.Snapshot()
	if err != nil || len(snap.Nodes) != 0 {
		t.Fatalf("empty snapshot = %+v, err %v", snap, err)
	}
}
