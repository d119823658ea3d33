package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ashita-ai/tsunagu/internal/controlplane"
	"github.com/ashita-ai/tsunagu/internal/rdf"
)

// ControlPlane is the subset of the management API the synchronizer
// needs.
type ControlPlane interface {
	GetCatalog(ctx context.Context, remoteURL string, query controlplane.CatalogQuery) (*controlplane.Catalog, error)
}

// Config holds the synchronizer settings.
type Config struct {
	Interval   time.Duration
	Connectors map[string]string // participant id -> connector base URL
}

// Synchronizer periodically mirrors the federated catalogs of the
// configured remote connectors into the quad store. Runs never overlap:
// the next pass is scheduled only after the current one finishes.
type Synchronizer struct {
	cp     ControlPlane
	store  rdf.Store
	cfg    Config
	logger *slog.Logger
}

// New creates a synchronizer.
func New(cp ControlPlane, store rdf.Store, cfg Config, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{cp: cp, store: store, cfg: cfg, logger: logger}
}

// Start launches the synchronization loop. It is a no-op when no
// interval or no connectors are configured. The loop stops when the
// context is canceled.
func (s *Synchronizer) Start(ctx context.Context) {
	if s.cfg.Interval <= 0 || len(s.cfg.Connectors) == 0 {
		s.logger.Info("dataspace synchronization disabled")
		return
	}
	s.logger.Info("starting dataspace synchronization",
		"connectors", len(s.cfg.Connectors), "interval", s.cfg.Interval)
	go s.loop(ctx)
}

func (s *Synchronizer) loop(ctx context.Context) {
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down dataspace synchronization")
			return
		case <-timer.C:
		}
		s.RunOnce(ctx)
		timer.Reset(s.cfg.Interval)
	}
}

// RunOnce synchronizes every configured connector, one store write
// transaction each. A failing remote is logged and skipped so the other
// connectors still get their refresh.
func (s *Synchronizer) RunOnce(ctx context.Context) {
	s.logger.Debug("synchronization run started")
	participants := make([]string, 0, len(s.cfg.Connectors))
	for participant := range s.cfg.Connectors {
		participants = append(participants, participant)
	}
	sort.Strings(participants)

	for _, participant := range participants {
		remoteURL := s.cfg.Connectors[participant]
		if err := s.syncConnector(ctx, remoteURL); err != nil {
			s.logger.Warn("could not synchronize remote connector, going ahead",
				"participant", participant, "remote", remoteURL, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// syncConnector replaces all facts of one remote connector inside a
// single transaction: delete what is known, reinsert what the catalog
// currently advertises.
func (s *Synchronizer) syncConnector(ctx context.Context, remoteURL string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sync: begin: %w", err)
	}

	catalog, err := s.cp.GetCatalog(ctx, remoteURL, controlplane.FederatedAssetQuery())
	if err != nil {
		_ = tx.Abort(ctx)
		return fmt.Errorf("sync: fetch catalog: %w", err)
	}

	graph := s.store.DefaultGraph()
	connector := ConnectorNode(remoteURL)

	deleted, err := s.deleteConnectorFacts(ctx, tx, graph, connector)
	if err != nil {
		_ = tx.Abort(ctx)
		return err
	}
	added, err := s.addConnectorFacts(ctx, tx, graph, connector, catalog)
	if err != nil {
		_ = tx.Abort(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sync: commit: %w", err)
	}
	s.logger.Debug("synchronized remote connector",
		"remote", remoteURL, "deleted", deleted, "added", added)
	return nil
}

// ConnectorNode derives the node URI of a connector from its base URL
// by rewriting the scheme into the dataspace scheme.
func ConnectorNode(remoteURL string) rdf.Term {
	switch {
	case strings.HasPrefix(remoteURL, "https://"):
		return rdf.IRI("edcs://" + strings.TrimPrefix(remoteURL, "https://"))
	case strings.HasPrefix(remoteURL, "http://"):
		return rdf.IRI("edc://" + strings.TrimPrefix(remoteURL, "http://"))
	default:
		return rdf.IRI(remoteURL)
	}
}

// deleteConnectorFacts removes every fact hanging off the connector
// node: the offer links, each offered asset's properties, and the SHACL
// shape subgraphs attached to those assets.
func (s *Synchronizer) deleteConnectorFacts(ctx context.Context, tx rdf.Tx, graph, connector rdf.Term) (int, error) {
	links, err := tx.Find(ctx, rdf.Quad{Graph: graph, Subject: connector, Predicate: offersLink})
	if err != nil {
		return 0, fmt.Errorf("sync: find connector offers: %w", err)
	}
	count := 0
	for _, link := range links {
		asset := link.Object

		shapes, err := tx.Find(ctx, rdf.Quad{Graph: graph, Subject: asset, Predicate: shapeObject})
		if err != nil {
			return count, fmt.Errorf("sync: find shape links: %w", err)
		}
		for _, shape := range shapes {
			facts, err := tx.Find(ctx, rdf.Quad{Graph: graph, Subject: shape.Object})
			if err != nil {
				return count, fmt.Errorf("sync: find shape facts: %w", err)
			}
			for _, fact := range facts {
				if err := tx.Delete(ctx, fact); err != nil {
					return count, fmt.Errorf("sync: delete shape fact: %w", err)
				}
				count++
			}
		}

		props, err := tx.Find(ctx, rdf.Quad{Graph: graph, Subject: asset})
		if err != nil {
			return count, fmt.Errorf("sync: find asset facts: %w", err)
		}
		for _, prop := range props {
			if err := tx.Delete(ctx, prop); err != nil {
				return count, fmt.Errorf("sync: delete asset fact: %w", err)
			}
			count++
		}

		if err := tx.Delete(ctx, link); err != nil {
			return count, fmt.Errorf("sync: delete offer link: %w", err)
		}
		count++
	}
	return count, nil
}

// addConnectorFacts converts every dataset of the catalog into quads
// and inserts them.
func (s *Synchronizer) addConnectorFacts(ctx context.Context, tx rdf.Tx, graph, connector rdf.Term, catalog *controlplane.Catalog) (int, error) {
	if len(catalog.Datasets) == 0 {
		s.logger.Warn("found an empty catalog", "connector", connector.Value)
		return 0, nil
	}
	count := 0
	for _, dataset := range catalog.Datasets {
		for _, quad := range s.convertToQuads(graph, connector, dataset) {
			if err := tx.Add(ctx, quad); err != nil {
				return count, fmt.Errorf("sync: add fact: %w", err)
			}
			count++
		}
	}
	return count, nil
}

// convertToQuads turns one catalog dataset into facts: an offer link
// from the connector, one fact per mapped property, the expansion of
// comma-separated complex values, and the imported SHACL shape
// subgraph. Unmapped properties are dropped.
func (s *Synchronizer) convertToQuads(graph, connector rdf.Term, dataset controlplane.Dataset) []rdf.Quad {
	properties := controlplane.DatasetProperties(dataset)
	asset := rdf.IRI(properties["@id"])

	quads := []rdf.Quad{{Graph: graph, Subject: connector, Predicate: offersLink, Object: asset}}
	for key, value := range properties {
		node, ok := lookupPredicate(key)
		if !ok || value == "" {
			continue
		}
		switch {
		case key == shapesGraphKey:
			shapeQuads, err := s.shapesFacts(graph, asset, value)
			if err != nil {
				s.logger.Debug("could not parse shapes graph, dropping it",
					"asset", asset.Value, "error", err)
				continue
			}
			quads = append(quads, shapeQuads...)
		case complexObjects[node.Value]:
			quads = append(quads, complexFacts(graph, asset, node, value)...)
		default:
			quads = append(quads, rdf.Quad{Graph: graph, Subject: asset, Predicate: node, Object: rdf.Literal(value)})
		}
	}
	return quads
}

// complexFacts expands a comma-separated object list into one fact per
// value. Values under dc:type additionally emit an rdf:type fact so
// both spellings are queryable.
func complexFacts(graph, asset, node rdf.Term, objectList string) []rdf.Quad {
	var quads []rdf.Quad
	for _, raw := range strings.Split(objectList, ",") {
		object := rdf.ParseTerm(strings.TrimSpace(raw), Prefixes)
		quads = append(quads, rdf.Quad{Graph: graph, Subject: asset, Predicate: node, Object: object})
		if node == dcType {
			quads = append(quads, rdf.Quad{Graph: graph, Subject: asset, Predicate: rdfType, Object: object})
		}
	}
	return quads
}

// shapesFacts parses a SHACL shape description and links every distinct
// top-level subject to the asset before importing the shape facts
// themselves.
func (s *Synchronizer) shapesFacts(graph, asset rdf.Term, shapesDescription string) ([]rdf.Quad, error) {
	shapeQuads, err := rdf.ParseTurtle(strings.NewReader(shapesDescription), graph)
	if err != nil {
		return nil, err
	}
	var quads []rdf.Quad
	linked := make(map[rdf.Term]bool)
	for _, quad := range shapeQuads {
		if !linked[quad.Subject] {
			linked[quad.Subject] = true
			quads = append(quads, rdf.Quad{Graph: graph, Subject: asset, Predicate: shapeObject, Object: quad.Subject})
		}
		quads = append(quads, quad)
	}
	s.logger.Debug("added shapes subgraph", "asset", asset.Value, "triples", len(shapeQuads))
	return quads, nil
}
