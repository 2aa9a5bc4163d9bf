package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityIsExternalFalseWhenMetadataNil(t *testing.T) {
	e := &Entity{}
	assert.False(t, e.IsExternal())
}

func TestEntityIsExternalFalseWhenFlagAbsent(t *testing.T) {
	e := &Entity{Metadata: map[string]interface{}{"other": "value"}}
	assert.False(t, e.IsExternal())
}

func TestEntityIsExternalTrueWhenFlagSet(t *testing.T) {
	e := &Entity{Metadata: map[string]interface{}{"isExternal": true}}
	assert.True(t, e.IsExternal())
}

func TestEntityIsExternalFalseWhenFlagWrongType(t *testing.T) {
	e := &Entity{Metadata: map[string]interface{}{"isExternal": "true"}}
	assert.False(t, e.IsExternal())
}

func TestVectorHealthNeedsRebuildWhenStaleVectorsPresent(t *testing.T) {
	h := VectorHealth{ModelVersion: "v1", StaleVectors: 3}
	assert.True(t, h.NeedsRebuild("v1"))
}

func TestVectorHealthNeedsRebuildWhenModelVersionDiffers(t *testing.T) {
	h := VectorHealth{ModelVersion: "v1", StaleVectors: 0}
	assert.True(t, h.NeedsRebuild("v2"))
}

func TestVectorHealthNoRebuildWhenCurrentAndNoStale(t *testing.T) {
	h := VectorHealth{ModelVersion: "v1", StaleVectors: 0}
	assert.False(t, h.NeedsRebuild("v1"))
}
