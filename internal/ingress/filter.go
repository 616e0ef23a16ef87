package ingress

// ExtractAddress returns the address to reconcile for s, or false when the
// change does not warrant reconciliation.
func ExtractAddress(s Snapshot) (string, bool) {
	if s.Kind != EventAdded && s.Kind != EventModified {
		return "", false
	}

	if s.IP != "" {
		return s.IP, true
	}

	if s.Hostname != "" {
		return s.Hostname, true
	}

	return "", false
}
