package server

import (
	"encoding/json"
	"net/http"

	"github.com/TobiSchelling/hiercluster/internal/cluster"
	"github.com/TobiSchelling/hiercluster/internal/database"
)

type runJSON struct {
	RunID          string   `json:"run_id"`
	Source         *string  `json:"source"`
	NumClusters    int      `json:"num_clusters"`
	Linkage        string   `json:"linkage"`
	Distance       string   `json:"distance"`
	CacheDistances bool     `json:"cache_distances"`
	Columns        []string `json:"columns"`
	RowCount       int      `json:"row_count"`
	ResultClusters int      `json:"result_clusters"`
	Fallback       bool     `json:"fallback"`
	DurationMS     int64    `json:"duration_ms"`
	CreatedAt      *string  `json:"created_at"`
}

func toRunJSON(r database.Run) runJSON {
	return runJSON{
		RunID:          r.RunID,
		Source:         r.Source,
		NumClusters:    r.NumClusters,
		Linkage:        r.Linkage,
		Distance:       r.Distance,
		CacheDistances: r.CacheDistances,
		Columns:        r.Columns,
		RowCount:       r.RowCount,
		ResultClusters: r.ResultClusters,
		Fallback:       r.Fallback,
		DurationMS:     r.DurationMS,
		CreatedAt:      r.CreatedAt,
	}
}

// nodeJSON is one dendrogram node in the nested form used by tree renderers.
// Leaves carry the row, internal nodes carry exactly two children.
type nodeJSON struct {
	Distance float64     `json:"distance"`
	Size     int         `json:"size"`
	RowIndex *int        `json:"row_index,omitempty"`
	Key      string      `json:"key,omitempty"`
	Children []*nodeJSON `json:"children,omitempty"`
}

// toNodeJSON converts the subtree below root iteratively.
func toNodeJSON(d *cluster.Dendrogram, root cluster.NodeID) *nodeJSON {
	type frame struct {
		id  cluster.NodeID
		out *nodeJSON
	}

	top := &nodeJSON{}
	stack := []frame{{root, top}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		f.out.Distance = d.Distance(f.id)
		f.out.Size = d.LeafCount(f.id)
		if d.IsLeaf(f.id) {
			idx := d.RowIndex(f.id)
			f.out.RowIndex = &idx
			if row, ok := d.Row(f.id); ok {
				f.out.Key = row.Key
			}
			continue
		}
		left, right := &nodeJSON{}, &nodeJSON{}
		f.out.Children = []*nodeJSON{left, right}
		stack = append(stack, frame{d.Right(f.id), right}, frame{d.Left(f.id), left})
	}
	return top
}

type assignmentJSON struct {
	Key     string `json:"key"`
	Cluster string `json:"cluster"`
}

type cutResultJSON struct {
	K           int              `json:"k"`
	Clusters    int              `json:"clusters"`
	Assignments []assignmentJSON `json:"assignments"`
}

func cutJSON(stored *database.StoredRun, k int) cutResultJSON {
	out := cutResultJSON{K: k, Assignments: []assignmentJSON{}}
	if stored.Root == cluster.NoNode {
		return out
	}
	labels := cluster.Cut(stored.Dendrogram, stored.Root, k)
	highest := -1
	for i, row := range stored.Input.Rows() {
		out.Assignments = append(out.Assignments, assignmentJSON{Key: row.Key, Cluster: cluster.Label(labels[i])})
		if labels[i] > highest {
			highest = labels[i]
		}
	}
	out.Clusters = highest + 1
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
