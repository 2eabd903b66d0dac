package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/amaradri/gallery-admin/internal/auth"
	"github.com/amaradri/gallery-admin/internal/blob"
	"github.com/amaradri/gallery-admin/internal/clientgallery"
	"github.com/amaradri/gallery-admin/internal/gallery"
	"github.com/amaradri/gallery-admin/internal/logging"
	"github.com/amaradri/gallery-admin/internal/mcpserver"
	"github.com/amaradri/gallery-admin/internal/rtdb"
	"github.com/amaradri/gallery-admin/internal/server"
	"github.com/amaradri/gallery-admin/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testUsername = "anna"
	testPassword = "correct horse battery"
	testKeyOwner = "mcp-bot"
	testAPIKey   = "ga_0123456789abcdef0123456789abcdef"
)

// harness holds the full e2e test stack: a real HTTP server in front of
// the gallery engine, backed by miniredis and a temp blob directory.
type harness struct {
	URL     string
	Client  *http.Client
	Store   *rtdb.Store
	Blobs   *blob.Dir
	History *state.State
	Engine  *gallery.Engine
}

// newHarness seeds the live gallery with the given ids, wires up the
// REST + MCP stack via server.NewMux behind the auth gate, and starts an
// httptest server.
func newHarness(t *testing.T, ids ...string) *harness {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)

	store, err := rtdb.New("redis://"+mr.Addr(), "gallery:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ts := httptest.NewUnstartedServer(nil)

	blobs, err := blob.NewDir(t.TempDir(), "http://"+ts.Listener.Addr().String()+"/blobs")
	require.NoError(t, err)

	history, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	records := make([]gallery.OrderRecord, len(ids))
	for i, id := range ids {
		records[i] = gallery.OrderRecord{ID: id, Order: i}
		require.NoError(t, blobs.Upload(ctx, gallery.BlobKey(id), strings.NewReader("img:"+id), 0, "image/jpeg"))
	}

	raw, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, gallery.OrderPath, raw))

	logger := logging.Discard()

	engine := gallery.New(store, blobs, logger, gallery.Options{})
	require.NoError(t, engine.Load(ctx))

	galleries := clientgallery.New(store, logger)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "gallery-admin-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, mcpserver.Deps{
		Engine:    engine,
		Galleries: galleries,
		History:   history,
		Logger:    logger,
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	gate := auth.NewGate(
		auth.Users{testUsername: string(hash)},
		[]auth.APIKey{{UserID: testKeyOwner, Key: testAPIKey}},
		logger,
	)

	ts.Config.Handler = server.NewMux(server.MuxConfig{
		Engine:     engine,
		Galleries:  galleries,
		History:    history,
		Gate:       gate,
		MCPHandler: mcpHandler,
		Blobs:      blobs,
		Checks:     map[string]server.Pinger{"redis": store},
		Logger:     logger,
	})
	ts.Start()
	t.Cleanup(ts.Close)

	return &harness{
		URL:     ts.URL,
		Client:  ts.Client(),
		Store:   store,
		Blobs:   blobs,
		History: history,
		Engine:  engine,
	}
}

// mcpSession creates an MCP client session authenticated with the given
// API key. Uses the MCP SDK's StreamableClientTransport with a custom
// HTTP RoundTripper that injects the Authorization header.
func (h *harness) mcpSession(t *testing.T, key string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: key,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// do performs a request with t.Context(). Basic auth is attached when
// user is non-empty.
func (h *harness) do(t *testing.T, method, path, user, password string, body io.Reader, contentType string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, h.URL+path, body)
	require.NoError(t, err)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if user != "" {
		req.SetBasicAuth(user, password)
	}

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// doGet performs an authenticated GET.
func (h *harness) doGet(t *testing.T, path string) *http.Response {
	t.Helper()
	return h.do(t, http.MethodGet, path, testUsername, testPassword, nil, "")
}

// doPostJSON performs an authenticated POST with a JSON body.
func (h *harness) doPostJSON(t *testing.T, path string, body []byte) *http.Response {
	t.Helper()
	return h.do(t, http.MethodPost, path, testUsername, testPassword, bytes.NewReader(body), "application/json")
}

// upload posts names[i] with contents[i] as a multipart form. Every part
// declares contentType.
func (h *harness) upload(t *testing.T, names []string, contents []string, contentType string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for i, name := range names {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		hdr.Set("Content-Type", contentType)

		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)

		_, err = part.Write([]byte(contents[i]))
		require.NoError(t, err)
	}

	require.NoError(t, mw.Close())

	return h.do(t, http.MethodPost, "/api/gallery/files", testUsername, testPassword, &buf, mw.FormDataContentType())
}

// liveOrder reads the persisted order straight from redis.
func (h *harness) liveOrder(t *testing.T) []gallery.OrderRecord {
	t.Helper()

	raw, err := h.Store.Get(t.Context(), gallery.OrderPath)
	require.NoError(t, err)

	return gallery.DecodeOrder(raw)
}

// decodeBody decodes a JSON response body and closes it.
func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))

	return v
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}

func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])

	return tc.Text
}
