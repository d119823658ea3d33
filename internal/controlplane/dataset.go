package controlplane

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Well-known predicates of catalog entries.
const (
	DCType  = "https://purl.org/dc/terms/type"
	RDFType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	EDCType = "https://w3id.org/edc/v0.0.1/ns/type"
)

// DSPEndpoint resolves a connector base URL to its dataspace protocol
// endpoint.
func DSPEndpoint(remoteURL string) string {
	return fmt.Sprintf(dspPath, remoteURL)
}

// DatasetProperties normalizes a dataset's property map to plain
// strings. Entries without any type property get one synthesized from
// the dataset id (cut at a trailing "?..." suffix); entries without an
// id get a random one, so downstream fact conversion always has a
// subject to hang facts off.
func DatasetProperties(d Dataset) map[string]string {
	props := make(map[string]string, len(d.Properties)+2)
	for key, value := range d.Properties {
		props[key] = AsString(value)
	}
	if props["@id"] == "" && d.ID != "" {
		props["@id"] = d.ID
	}
	if _, hasType := firstPresent(props, DCType, RDFType, EDCType); !hasType {
		assetType := props["@id"]
		if assetType == "" {
			assetType = "cx-common:Asset"
		}
		if idx := strings.Index(assetType, "?"); idx > 0 {
			assetType = assetType[:idx]
		}
		props[DCType] = assetType
	}
	if props["@id"] == "" {
		props["@id"] = uuid.NewString()
	}
	return props
}

func firstPresent(props map[string]string, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := props[key]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}
