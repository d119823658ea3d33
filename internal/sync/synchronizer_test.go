package sync

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsunagu/internal/controlplane"
	"github.com/ashita-ai/tsunagu/internal/rdf"
)

type fakeCatalogSource struct {
	catalogs map[string]*controlplane.Catalog
	failing  map[string]bool
}

func (f *fakeCatalogSource) GetCatalog(ctx context.Context, remoteURL string, query controlplane.CatalogQuery) (*controlplane.Catalog, error) {
	if f.failing[remoteURL] {
		return nil, errors.New("connector unreachable")
	}
	catalog, ok := f.catalogs[remoteURL]
	if !ok {
		return &controlplane.Catalog{}, nil
	}
	return catalog, nil
}

const shapeFixture = "@prefix sh: <http://www.w3.org/ns/shacl#> .\n" +
	"<urn:shape:graph> sh:targetClass <urn:cx:Part> .\n" +
	"<urn:shape:graph> sh:closed \"true\"^^<http://www.w3.org/2001/XMLSchema#boolean> .\n"

func graphAssetCatalog() *controlplane.Catalog {
	return &controlplane.Catalog{
		ParticipantID: "BPNL02",
		Datasets: []controlplane.Dataset{{
			ID: "urn:asset:graph1",
			Properties: map[string]any{
				CommonNamespace + "name":        "part graph",
				DCNamespace + "type":            "cx-taxo:GraphAsset",
				CommonNamespace + "isFederated": "true^^xsd:boolean",
				SHACLNamespace + "shapesGraph":  shapeFixture,
				"http://unknown.example.com/x":  "dropped",
			},
		}},
	}
}

func newSynchronizer(cp ControlPlane, store rdf.Store, connectors map[string]string) *Synchronizer {
	return New(cp, store, Config{Connectors: connectors}, slog.New(slog.DiscardHandler))
}

func TestConnectorNodeRewritesScheme(t *testing.T) {
	assert.Equal(t, "edc://one.example.com", ConnectorNode("http://one.example.com").Value)
	assert.Equal(t, "edcs://two.example.com", ConnectorNode("https://two.example.com").Value)
}

func TestRunOnceMirrorsCatalog(t *testing.T) {
	store := rdf.NewMemStore("urn:x-arq:DefaultGraph")
	cp := &fakeCatalogSource{catalogs: map[string]*controlplane.Catalog{
		"http://one.example.com": graphAssetCatalog(),
	}}
	s := newSynchronizer(cp, store, map[string]string{"BPNL02": "http://one.example.com"})

	s.RunOnce(context.Background())

	graph := store.DefaultGraph()
	asset := rdf.IRI("urn:asset:graph1")

	links, err := store.Find(context.Background(), rdf.Quad{
		Graph: graph, Subject: rdf.IRI("edc://one.example.com"), Predicate: offersLink,
	})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, asset, links[0].Object)

	// dc:type values surface under both type predicates
	types, err := store.Find(context.Background(), rdf.Quad{Graph: graph, Subject: asset, Predicate: rdfType})
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, rdf.IRI(TaxonomyNamespace+"GraphAsset"), types[0].Object)

	dcTypes, err := store.Find(context.Background(), rdf.Quad{Graph: graph, Subject: asset, Predicate: dcType})
	require.NoError(t, err)
	require.Len(t, dcTypes, 1)

	// the shape subgraph is linked and imported
	shapes, err := store.Find(context.Background(), rdf.Quad{Graph: graph, Subject: asset, Predicate: shapeObject})
	require.NoError(t, err)
	require.Len(t, shapes, 1)
	shapeFacts, err := store.Find(context.Background(), rdf.Quad{Graph: graph, Subject: shapes[0].Object})
	require.NoError(t, err)
	assert.Len(t, shapeFacts, 2)

	// unmapped properties are dropped
	dropped, err := store.Find(context.Background(), rdf.Quad{
		Graph: graph, Subject: asset, Predicate: rdf.IRI("http://unknown.example.com/x"),
	})
	require.NoError(t, err)
	assert.Empty(t, dropped)
}

func TestRunOnceIsIdempotent(t *testing.T) {
	store := rdf.NewMemStore("urn:x-arq:DefaultGraph")
	cp := &fakeCatalogSource{catalogs: map[string]*controlplane.Catalog{
		"http://one.example.com": graphAssetCatalog(),
	}}
	s := newSynchronizer(cp, store, map[string]string{"BPNL02": "http://one.example.com"})

	s.RunOnce(context.Background())
	first := store.Len()
	require.Positive(t, first)

	s.RunOnce(context.Background())
	assert.Equal(t, first, store.Len(), "resync must delete before reinserting")
}

func TestRunOnceRemovesVanishedAssets(t *testing.T) {
	store := rdf.NewMemStore("urn:x-arq:DefaultGraph")
	cp := &fakeCatalogSource{catalogs: map[string]*controlplane.Catalog{
		"http://one.example.com": graphAssetCatalog(),
	}}
	s := newSynchronizer(cp, store, map[string]string{"BPNL02": "http://one.example.com"})

	s.RunOnce(context.Background())
	require.Positive(t, store.Len())

	cp.catalogs["http://one.example.com"] = &controlplane.Catalog{ParticipantID: "BPNL02"}
	s.RunOnce(context.Background())
	assert.Zero(t, store.Len(), "assets no longer advertised must disappear")
}

func TestRunOnceIsolatesFailingConnector(t *testing.T) {
	store := rdf.NewMemStore("urn:x-arq:DefaultGraph")
	cp := &fakeCatalogSource{
		catalogs: map[string]*controlplane.Catalog{
			"http://good.example.com": graphAssetCatalog(),
		},
		failing: map[string]bool{"http://bad.example.com": true},
	}
	s := newSynchronizer(cp, store, map[string]string{
		"BPNL02": "http://good.example.com",
		"BPNL03": "http://bad.example.com",
	})

	s.RunOnce(context.Background())

	links, err := store.Find(context.Background(), rdf.Quad{
		Graph:     store.DefaultGraph(),
		Subject:   rdf.IRI("edc://good.example.com"),
		Predicate: offersLink,
	})
	require.NoError(t, err)
	assert.Len(t, links, 1, "healthy connectors sync despite a failing sibling")
}

func TestLookupPredicateHandlesAliasesAndLanguageTags(t *testing.T) {
	node, ok := lookupPredicate(EDCNamespace + "name")
	require.True(t, ok)
	assert.Equal(t, CommonNamespace+"name", node.Value)

	node, ok = lookupPredicate(RDFNamespace + "type")
	require.True(t, ok)
	assert.Equal(t, DCNamespace+"type", node.Value)

	node, ok = lookupPredicate(CommonNamespace + "description@en")
	require.True(t, ok)
	assert.Equal(t, CommonNamespace+"description@en", node.Value)

	_, ok = lookupPredicate("http://unknown.example.com/x")
	assert.False(t, ok)
}
