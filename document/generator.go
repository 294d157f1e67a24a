package document

import (
	"context"
	"fmt"

	"github.com/sachindeshpande/faers-sub002/chassis/storage"
)

// Document - generated submission payload.
type Document struct {
	Bytes    []byte
	Filename string
}

// Generator - the narrow document generation contract. Generation
// itself (E2B rendering, validation) is owned by the upstream system.
type Generator interface {
	Generate(ctx context.Context, caseID string) (Document, error)
}

// StoreGenerator serves the pre-generated document stored on the case.
type StoreGenerator struct {
	cases storage.CaseRepository
}

// NewStoreGenerator ...
func NewStoreGenerator(cases storage.CaseRepository) *StoreGenerator {
	return &StoreGenerator{cases: cases}
}

// Generate ...
func (g *StoreGenerator) Generate(ctx context.Context, caseID string) (Document, error) {
	c, err := g.cases.Case(ctx, caseID)
	if err != nil {
		return Document{}, err
	}
	if len(c.DocumentXML) == 0 {
		return Document{}, fmt.Errorf("case %s has no generated document", caseID)
	}
	return Document{
		Bytes:    c.DocumentXML,
		Filename: fmt.Sprintf("icsr-%s.xml", caseID),
	}, nil
}
