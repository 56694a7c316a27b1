// Package webhooks receives MercadoLibre notifications for connected stores.
//
// MercadoLibre retries a notification until it is acknowledged with a 200, so
// intake never fails the request for domain reasons: malformed payloads are
// rejected with a result flag, repeated deliveries inside the burst window are
// coalesced and the remaining notifications are matched to the connections
// authorized by the notifying seller before they reach the Handler.
package webhooks
