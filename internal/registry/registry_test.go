package registry

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaTextFetchesAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
		fmt.Fprint(w, `{"schema":"message Widget { int32 id = 1; }"}`)
	}))
	defer srv.Close()

	c := New(srv.URL)

	text, err := c.SchemaText(42)
	require.NoError(t, err)
	require.Contains(t, text, "Widget")
	require.Equal(t, 1, calls)

	text2, err := c.SchemaText(42)
	require.NoError(t, err)
	require.Equal(t, text, text2)
	require.Equal(t, 1, calls, "second lookup should be served from cache, not a new request")
}

func TestSchemaTextDistinctIDsAreNotConflated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
		fmt.Fprintf(w, `{"schema":"message S%s {}"}`, r.URL.Path[len(r.URL.Path)-1:])
	}))
	defer srv.Close()

	c := New(srv.URL)

	t1, err := c.SchemaText(1)
	require.NoError(t, err)
	t2, err := c.SchemaText(2)
	require.NoError(t, err)
	require.NotEqual(t, t1, t2)
}
