package watch

import (
	"context"

	"github.com/cockroachdb/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// Options selects what a subscription streams.
type Options struct {
	LabelSelector string

	// ResourceVersion resumes the stream after this version. Empty starts from
	// the current state.
	ResourceVersion string

	// TimeoutSeconds asks the server to end the stream after this long.
	TimeoutSeconds int64
}

// Subscriber opens an ingress event stream.
type Subscriber interface {
	Subscribe(ctx context.Context, opts Options) (apiwatch.Interface, error)
}

// IngressSubscriber watches networking/v1 Ingresses in all namespaces.
type IngressSubscriber struct {
	Client kubernetes.Interface
}

// NewIngressSubscriber creates an IngressSubscriber.
func NewIngressSubscriber(client kubernetes.Interface) *IngressSubscriber {
	return &IngressSubscriber{Client: client}
}

// Subscribe implements Subscriber.
func (s *IngressSubscriber) Subscribe(ctx context.Context, opts Options) (apiwatch.Interface, error) {
	listOpts := metav1.ListOptions{
		LabelSelector:       opts.LabelSelector,
		ResourceVersion:     opts.ResourceVersion,
		AllowWatchBookmarks: true,
	}

	if opts.TimeoutSeconds > 0 {
		timeout := opts.TimeoutSeconds
		listOpts.TimeoutSeconds = &timeout
	}

	w, err := s.Client.NetworkingV1().Ingresses(metav1.NamespaceAll).Watch(ctx, listOpts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to watch ingresses")
	}

	return w, nil
}
