// Package cluster implements agglomerative hierarchical clustering over the
// numeric columns of a table.
//
// A run starts with every row in its own cluster and repeatedly merges the
// closest pair of clusters, as judged by a Linkage over a DistanceFunction,
// until one cluster is left. Each merge is recorded in a Dendrogram and in
// a FusionCurve. When the working set reaches the requested cluster count
// the row assignments are captured; the result table carries them as a
// Cluster column with labels cluster_0, cluster_1 and so on.
//
// Dendrograms can be written to and read from a settings block with
// SaveDendrogram and LoadDendrogram, and re-cut at any cluster count with Cut.
package cluster
