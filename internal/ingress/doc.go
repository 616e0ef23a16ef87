// Package ingress turns cluster ingress change notifications into candidate
// load balancer addresses.
//
// # Snapshots
//
// SnapshotFromEvent converts a raw watch event into a Snapshot holding only
// what the controller needs: the ingress identity, the kind of change, the
// first load balancer ingress point and the resource version. Bookmarks,
// error events and objects that are not networking/v1 Ingresses yield no
// snapshot.
//
// # Candidate Address
//
// ExtractAddress decides whether a snapshot warrants reconciliation:
//
//   - Deleted never yields a candidate
//   - Added and Modified yield the IP of the first load balancer ingress point
//   - When that point has no IP, its hostname is used
//   - An empty load balancer status yields no candidate
//
// Only the first ingress point is considered; additional points are ignored.
package ingress
