package couchbase

// CasSetter is implemented by documents that track the CAS of the revision
// they were loaded from.
type CasSetter interface {
	SetCas(cas uint64)
}

// CasGetter exposes the tracked CAS. Zero means no revision is known.
type CasGetter interface {
	GetCas() uint64
}

// Cas can be embedded in document types to track their revision.
type Cas struct {
	c uint64
}

// GetCas returns the current CAS value.
func (c *Cas) GetCas() uint64 {
	return c.c
}

// SetCas updates the CAS value.
func (c *Cas) SetCas(cas uint64) {
	c.c = cas
}
