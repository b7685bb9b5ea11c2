package ports

// WebhookVerifier authenticates a raw inbound webhook delivery against its
// signature and timestamp headers.
type WebhookVerifier interface {
	Verify(body []byte, signature, timestamp string) error
}
