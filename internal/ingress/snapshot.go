package ingress

import (
	"strings"

	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/watch"
)

// EventKind is the kind of change a snapshot describes.
type EventKind string

const (
	EventAdded    EventKind = "ADDED"
	EventModified EventKind = "MODIFIED"
	EventDeleted  EventKind = "DELETED"
)

// Snapshot is one observed ingress state.
type Snapshot struct {
	Namespace       string
	Name            string
	Kind            EventKind
	ResourceVersion string

	// IP and Hostname come from the first load balancer ingress point.
	IP       string
	Hostname string

	// Points is the number of load balancer ingress points in the status.
	Points int
}

// Key returns namespace/name.
func (s Snapshot) Key() string {
	return s.Namespace + "/" + s.Name
}

// SnapshotFromEvent converts a watch event into a Snapshot.
// It returns false for bookmarks, error events and foreign objects.
func SnapshotFromEvent(event watch.Event) (Snapshot, bool) {
	var kind EventKind

	switch event.Type {
	case watch.Added:
		kind = EventAdded
	case watch.Modified:
		kind = EventModified
	case watch.Deleted:
		kind = EventDeleted
	case watch.Bookmark, watch.Error:
		return Snapshot{}, false
	default:
		return Snapshot{}, false
	}

	ing, ok := event.Object.(*networkingv1.Ingress)
	if !ok || ing == nil {
		return Snapshot{}, false
	}

	return FromIngress(ing, kind), true
}

// FromIngress builds a Snapshot from an ingress object.
func FromIngress(ing *networkingv1.Ingress, kind EventKind) Snapshot {
	snapshot := Snapshot{
		Namespace:       ing.Namespace,
		Name:            ing.Name,
		Kind:            kind,
		ResourceVersion: ing.ResourceVersion,
		Points:          len(ing.Status.LoadBalancer.Ingress),
	}

	if snapshot.Points > 0 {
		point := ing.Status.LoadBalancer.Ingress[0]
		snapshot.IP = strings.TrimSpace(point.IP)
		snapshot.Hostname = strings.TrimSpace(point.Hostname)
	}

	return snapshot
}
