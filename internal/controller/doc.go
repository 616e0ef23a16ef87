// Package controller wires the geo DNS controller together.
//
// Run builds every component from the immutable configuration and hands the
// ingress watch session to a controller-runtime manager, which also serves
// Prometheus metrics and the health probes.
//
// # Architecture
//
//	┌──────────────┐  events  ┌──────────────┐  address  ┌────────────┐
//	│ Ingress      │─────────>│ EventHandler │──────────>│ Reconciler │
//	│ watch        │          └──────────────┘           └─────┬──────┘
//	└──────────────┘                                           │
//	                                          fetch, merge, write
//	                                                           ▼
//	                                                   ┌──────────────┐
//	                                                   │ Cloud DNS    │
//	                                                   │ A record     │
//	                                                   └──────────────┘
//
// # Event Handling
//
// EventHandler turns each watch event into at most one reconciliation:
//
//   - Added and Modified events with a load balancer address reconcile the
//     record with that address
//   - Deleted events are logged and never modify DNS
//   - Events without an address are skipped
package controller
