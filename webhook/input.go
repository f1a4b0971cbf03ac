package webhook

// Input is the creation/update payload for webhook registrations.
type Input struct {
	// Name is a human-readable label for the registration.
	Name string `json:"name"`

	// URL is the delivery endpoint. Must be a valid http(s) URL.
	URL string `json:"url"`

	// Secret is the HMAC signing secret. Auto-generated if empty on create.
	Secret string `json:"secret"`

	// Events is the set of subscribed event names. Validated against
	// the catalog when one is configured.
	Events []string `json:"events"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`
}
