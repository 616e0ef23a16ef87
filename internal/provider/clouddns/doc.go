// Package clouddns implements the DNS provider client on Google Cloud DNS.
//
// The client is bound to one project and one managed zone. Geo routing
// policies map one to one onto geo.Item values:
//
//	RRSetRoutingPolicy.Geo.Items[i].Location  <->  geo.Item.Location
//	RRSetRoutingPolicy.Geo.Items[i].Rrdatas   <->  geo.Item.Addresses
//
// Updates are submitted as a single change that deletes the record set read
// earlier and adds the desired one. Cloud DNS applies the change only if the
// deletion still matches, so a concurrent writer makes the update fail with a
// retryable 412 instead of being overwritten. Geo items left unchanged keep
// their health checked targets, and the policy keeps its health check and
// fencing settings.
//
// Every call waits on a token bucket rate limiter, runs under a per-call
// timeout and records provider API metrics. Failures are returned as-is with
// the ones retrying cannot fix marked by provider.Permanent.
package clouddns
