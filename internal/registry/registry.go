// Package registry resolves a Confluent Schema Registry schema ID (the
// 4 bytes following the magic byte in a broker payload's wire prefix)
// to the schema text registered under it. It does not compile that text
// into a FileDescriptorSet, and the broker-source pipeline does not call
// it: broker decoding uses an operator-supplied descriptor set.
package registry

import (
	"fmt"
	"sync"

	"github.com/riferrei/srclient"
)

// Client resolves schema IDs to raw schema text, caching by ID for
// the life of the process since a given numeric ID is immutable once
// registered.
type Client struct {
	inner *srclient.SchemaRegistryClient

	mu    sync.RWMutex
	cache map[int]string
}

// New constructs a Client against the registry at baseURL.
func New(baseURL string) *Client {
	return &Client{
		inner: srclient.CreateSchemaRegistryClient(baseURL),
		cache: make(map[int]string),
	}
}

// SchemaText returns the raw schema text registered under schemaID
// (a .proto source for protobuf-subject schemas), fetching and caching
// on first use.
func (c *Client) SchemaText(schemaID int) (string, error) {
	c.mu.RLock()
	if text, ok := c.cache[schemaID]; ok {
		c.mu.RUnlock()
		return text, nil
	}
	c.mu.RUnlock()

	schema, err := c.inner.GetSchema(schemaID)
	if err != nil {
		return "", fmt.Errorf("registry: fetching schema %d: %w", schemaID, err)
	}

	text := schema.Schema()

	c.mu.Lock()
	c.cache[schemaID] = text
	c.mu.Unlock()

	return text, nil
}
