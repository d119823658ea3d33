// Package sync mirrors the catalogs of remote dataspace connectors into
// the local quad store on a fixed schedule.
package sync

import (
	"strings"

	"github.com/ashita-ai/tsunagu/internal/rdf"
)

// Well-known namespaces of catalog facts.
const (
	CommonNamespace    = "https://w3id.org/catenax/ontology/common#"
	TaxonomyNamespace  = "https://w3id.org/catenax/taxonomy#"
	EDCNamespace       = "https://w3id.org/edc/v0.0.1/ns/"
	RDFNamespace       = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFSchemaNamespace = "http://www.w3.org/2000/01/rdf-schema#"
	DCNamespace        = "https://purl.org/dc/terms/"
	SHACLNamespace     = "http://www.w3.org/ns/shacl#"
	CXSchemaNamespace  = "https://w3id.org/catenax/ontology/schema#"
	XSDNamespace       = "http://www.w3.org/2001/XMLSchema#"
)

// Predicates with a fixed role in the connector fact model.
var (
	rdfType     = rdf.IRI(RDFNamespace + "type")
	dcType      = rdf.IRI(DCNamespace + "type")
	offersLink  = rdf.IRI(CommonNamespace + "offers")
	shapeObject = rdf.IRI(CXSchemaNamespace + "shapeObject")
)

const shapesGraphKey = SHACLNamespace + "shapesGraph"

// Prefixes maps the predefined short prefixes onto their namespaces.
// Keys keep the trailing colon so they line up with term parsing.
var Prefixes = map[string]string{
	"cx-common:": CommonNamespace,
	"cx-taxo:":   TaxonomyNamespace,
	"edc:":       EDCNamespace,
	"rdf:":       RDFNamespace,
	"rdfs:":      RDFSchemaNamespace,
	"sh:":        SHACLNamespace,
	"cx-sh:":     CXSchemaNamespace,
	"dct:":       DCNamespace,
	"xsd:":       XSDNamespace,
}

// assetPredicates maps incoming property keys onto the predicate they
// are stored under. complexObjects marks the predicates whose values are
// comma-separated term lists rather than plain strings.
var (
	assetPredicates = map[string]rdf.Term{}
	complexObjects  = map[string]bool{}
)

func init() {
	registerPredicate(CommonNamespace, "id", false)
	registerPredicate(CommonNamespace, "name", false)
	registerPredicate(CommonNamespace, "description", false)
	registerPredicate(CommonNamespace, "version", false)
	registerPredicate(CommonNamespace, "contenttype", false)
	registerPredicate(DCNamespace, "type", true)
	// alias the rdf definition onto dublin core
	assetPredicates[RDFNamespace+"type"] = dcType
	registerPredicate(RDFSchemaNamespace, "isDefinedBy", true)
	registerPredicate(CommonNamespace, "implementsProtocol", true)
	registerPredicate(SHACLNamespace, "shapesGraph", false)
	registerPredicate(CommonNamespace, "isFederated", true)
	registerPredicate(CommonNamespace, "publishedUnderContract", true)
	registerPredicate(CommonNamespace, "satisfiesRole", true)
}

// registerPredicate makes a property addressable under both its own
// namespace and the EDC namespace.
func registerPredicate(namespace, name string, isComplex bool) {
	target := rdf.IRI(namespace + name)
	assetPredicates[namespace+name] = target
	assetPredicates[EDCNamespace+name] = target
	if isComplex {
		complexObjects[target.Value] = true
	}
}

// lookupPredicate resolves a property key to its predicate, stripping a
// trailing language modifier ("...name@en") when the raw key is unknown.
func lookupPredicate(key string) (rdf.Term, bool) {
	if node, ok := assetPredicates[key]; ok {
		return node, true
	}
	at := strings.LastIndex(key, "@")
	if at < 0 {
		return rdf.Term{}, false
	}
	node, ok := assetPredicates[key[:at]]
	if !ok {
		return rdf.Term{}, false
	}
	return rdf.IRI(node.Value + key[at:]), true
}
