package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Analysis is one package-graph crawl, written by the graph phase and
// consumed here. Graph holds the immutable snapshot; Progress is the single
// monotone percentage surfaced to clients while enrichment runs.
type Analysis struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PackageAddress string         `gorm:"not null;index" json:"package_address"`
	Network        string         `gorm:"not null;default:mainnet" json:"network"`
	Status         string         `gorm:"not null;default:pending" json:"status"`
	Graph          datatypes.JSON `gorm:"type:jsonb" json:"graph,omitempty"`
	Progress       int            `gorm:"not null;default:0" json:"progress"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (Analysis) TableName() string {
	return "analysis"
}

// GraphSnapshot is the stored shape of Analysis.Graph.
type GraphSnapshot struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges,omitempty"`
	Flags []GraphFlag `json:"flags,omitempty"`
}

// GraphNode is one discovered module.
type GraphNode struct {
	FullName  string          `json:"full_name"`
	Friends   []string        `json:"friends,omitempty"`
	Functions []GraphFunction `json:"functions,omitempty"`
}

type GraphFunction struct {
	Name       string      `json:"name"`
	Visibility string      `json:"visibility,omitempty"`
	IsEntry    bool        `json:"is_entry,omitempty"`
	Calls      []GraphCall `json:"calls,omitempty"`
}

// GraphCall is a call target. Module may be fully qualified
// ("0xabc::coin") or bare ("coin") depending on the bytecode reference.
type GraphCall struct {
	Module string `json:"module"`
	Func   string `json:"func"`
}

type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// GraphFlag is an analysis finding scoped to a module.
type GraphFlag struct {
	Module   string `json:"module"`
	Kind     string `json:"kind"`
	Severity string `json:"severity,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Snapshot decodes the stored graph.
func (a *Analysis) Snapshot() (*GraphSnapshot, error) {
	var snap GraphSnapshot
	if len(a.Graph) == 0 {
		return &snap, nil
	}
	if err := json.Unmarshal(a.Graph, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// PackageAddresses returns the distinct package addresses referenced by the
// snapshot, in first-seen order.
func (s *GraphSnapshot) PackageAddresses() []string {
	seen := map[string]bool{}
	out := []string{}
	for _, n := range s.Nodes {
		addr, _, ok := SplitModuleFullName(n.FullName)
		if !ok || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}
