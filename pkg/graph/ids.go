// Package graph implements typed CRUD and batch operations over entities,
// relationships and files (C4), plus subgraph extraction and maintenance.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/developer-mesh/codegraph/pkg/models"
)

const idLength = 12

// EntityID derives the stable 12-character id of an entity from the inputs
// declared in spec.md §3: sha256(filePath|type|name|startIndex-endIndex).
// It is a pure function of those inputs, so re-indexing unchanged source
// yields byte-identical ids.
func EntityID(filePath string, entityType models.EntityType, name string, startIndex, endIndex int) string {
	material := fmt.Sprintf("%s|%s|%s|%d-%d", filePath, entityType, name, startIndex, endIndex)
	return truncatedHash(material)
}

// RelationshipID derives the stable 12-character id of a relationship from
// sha256(fromId|toId|type); duplicates are idempotent overwrites by design.
func RelationshipID(fromID, toID string, relType models.RelationshipType) string {
	material := fmt.Sprintf("%s|%s|%s", fromID, toID, relType)
	return truncatedHash(material)
}

// ExternalEntityID derives the synthetic id for a placeholder entity
// standing in for a symbol outside the indexed corpus, keyed by the
// referring source and the external symbol name (spec.md §9).
func ExternalEntityID(source, symbol string) string {
	return truncatedHash(fmt.Sprintf("external|%s|%s", source, symbol))
}

func truncatedHash(material string) string {
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])[:idLength]
}
