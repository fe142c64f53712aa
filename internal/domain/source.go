// Package domain defines the core entities and interfaces of the auction
// indexer: sources, auctions, rounds, takes, the transactional outbox, and
// the store/bus contracts implemented by the postgres and redis packages.
package domain

// SchemaVersion selects the decoding variant for a factory source. Legacy
// deployers emit a two-field deploy event and carry no decay parameters in
// the log; modern deployers include the full auction configuration.
type SchemaVersion string

const (
	SchemaLegacy SchemaVersion = "legacy"
	SchemaModern SchemaVersion = "modern"
)

// Valid reports whether v is a known schema version.
func (v SchemaVersion) Valid() bool {
	return v == SchemaLegacy || v == SchemaModern
}

// Source is one factory-style deployer contract on one network. Sources are
// registered by configuration and never mutated by the indexer.
type Source struct {
	NetworkID  int64
	Address    string
	Version    SchemaVersion
	StartBlock uint64
}
