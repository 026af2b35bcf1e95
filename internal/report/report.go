// Package report renders a stored clustering run as a markdown document.
package report

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/hiercluster/internal/database"
)

// maxFusionRows caps the fusion table at the last merges, which carry the
// largest distances and decide the coarse structure.
const maxFusionRows = 20

// Summary is the one-line description of a run used as the report's lead.
func Summary(run *database.StoredRun) string {
	if run.RowCount == 0 {
		return "No rows were clustered."
	}
	sizes := clusterSizes(run.Labels)
	return fmt.Sprintf("%d rows in %d clusters using %s linkage over %s distance.",
		run.RowCount, len(sizes), strings.ToLower(run.Linkage), strings.ToLower(run.Distance))
}

// Compose builds the full markdown report for a run.
func Compose(run *database.StoredRun) string {
	sections := []string{
		fmt.Sprintf("# Run %s\n\n%s", shortID(run.RunID), Summary(run)),
		settingsSection(run),
	}

	if warn := warningsSection(run); warn != "" {
		sections = append(sections, warn)
	}
	if run.RowCount > 0 {
		sections = append(sections, clustersSection(run))
	}
	if len(run.Fusion) > 0 {
		sections = append(sections, fusionSection(run))
	}
	sections = append(sections, workSection(run))

	return strings.Join(sections, "\n\n---\n\n")
}

func settingsSection(run *database.StoredRun) string {
	source := "-"
	if run.Source != nil {
		source = *run.Source
	}
	columns := "-"
	if len(run.Columns) > 0 {
		columns = strings.Join(run.Columns, ", ")
	}

	lines := []string{
		"## Settings",
		"",
		"| Setting | Value |",
		"|---|---|",
		fmt.Sprintf("| Source | %s |", source),
		fmt.Sprintf("| Requested clusters | %d |", run.NumClusters),
		fmt.Sprintf("| Linkage | %s |", run.Linkage),
		fmt.Sprintf("| Distance | %s |", run.Distance),
		fmt.Sprintf("| Columns | %s |", columns),
		fmt.Sprintf("| Distance cache | %t |", run.CacheDistances),
	}
	return strings.Join(lines, "\n")
}

func warningsSection(run *database.StoredRun) string {
	var warnings []string
	if run.Fallback && run.RowCount > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"- Requested %d clusters but the input has only %d rows; the result holds the final state.",
			run.NumClusters, run.RowCount))
	}
	if inv := run.Fusion.Inversions(); len(inv) > 0 {
		steps := make([]string, len(inv))
		for i, s := range inv {
			steps[i] = fmt.Sprint(s + 1)
		}
		warnings = append(warnings, fmt.Sprintf(
			"- Fusion distance decreases at merge %s.", strings.Join(steps, ", ")))
	}
	if len(warnings) == 0 {
		return ""
	}
	return "## Warnings\n\n" + strings.Join(warnings, "\n")
}

func clustersSection(run *database.StoredRun) string {
	lines := []string{"## Clusters", "", "| Cluster | Rows | Share |", "|---|---:|---:|"}
	for _, s := range clusterSizes(run.Labels) {
		share := 100 * float64(s.Size) / float64(run.RowCount)
		lines = append(lines, fmt.Sprintf("| %s | %d | %.1f%% |", s.Label, s.Size, share))
	}
	return strings.Join(lines, "\n")
}

func fusionSection(run *database.StoredRun) string {
	entries := run.Fusion
	intro := fmt.Sprintf("All %d merges.", len(entries))
	if len(entries) > maxFusionRows {
		entries = entries[len(entries)-maxFusionRows:]
		intro = fmt.Sprintf("Last %d of %d merges.", maxFusionRows, len(run.Fusion))
	}

	lines := []string{"## Fusion curve", "", intro, "", "| Clusters | Distance |", "|---:|---:|"}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("| %d | %.6g |", e.Clusters, e.Distance))
	}
	return strings.Join(lines, "\n")
}

func workSection(run *database.StoredRun) string {
	s := run.Stats
	line := fmt.Sprintf("%d merges, %d distance computations in %d ms.",
		s.Merges, s.DistanceComputations, run.DurationMS)
	if run.CacheDistances {
		line += fmt.Sprintf(" Cache: %d hits, %d misses.", s.CacheHits, s.CacheMisses)
	}
	return "## Work\n\n" + line
}

// clusterSizes counts rows per label in order of first appearance.
func clusterSizes(labels []string) []database.ClusterSize {
	var sizes []database.ClusterSize
	index := map[string]int{}
	for _, l := range labels {
		i, ok := index[l]
		if !ok {
			i = len(sizes)
			index[l] = i
			sizes = append(sizes, database.ClusterSize{Label: l})
		}
		sizes[i].Size++
	}
	return sizes
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
