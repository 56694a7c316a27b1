// Package core contains the marketplace connection contracts, entities, and
// orchestration logic. Lower-level adapters (cipher, OAuth client, stores,
// transports) depend on this package; core must not depend on them.
package core
