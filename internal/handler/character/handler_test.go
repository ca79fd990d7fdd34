package character

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BeranItService/chatbot/internal/handler/handlertest"
	"github.com/BeranItService/chatbot/internal/model/responder"
	chatService "github.com/BeranItService/chatbot/internal/service/chat"
)

type envelope struct {
	Response json.RawMessage `json:"response"`
	Ret      int             `json:"ret"`
}

func setupRouter(t *testing.T) (*chi.Mux, *handlertest.Fixture) {
	fixture := handlertest.New(t)
	r := chi.NewRouter()
	New(fixture.Service, nil).RegisterRoutes(r)
	return r, fixture
}

func get(t *testing.T, r http.Handler, path string, params url.Values) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path+"?"+params.Encode(), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestChatbotsListsCatalogue(t *testing.T) {
	r, _ := setupRouter(t)

	code, env := get(t, r, "/chatbots", url.Values{"lang": {"en-US"}})
	require.Equal(t, http.StatusOK, code)

	var chars []responder.Descriptor
	require.NoError(t, json.Unmarshal(env.Response, &chars))
	require.Len(t, chars, 2)
	assert.Equal(t, "sophia.pattern", chars[0].ID)
	assert.Equal(t, "generic.pattern", chars[1].ID)

	_, env = get(t, r, "/chatbots", url.Values{"lang": {"fr-FR"}})
	require.NoError(t, json.Unmarshal(env.Response, &chars))
	assert.Empty(t, chars)
}

func TestBotNamesSkipsGeneric(t *testing.T) {
	r, _ := setupRouter(t)

	_, env := get(t, r, "/bot_names", url.Values{})
	var names []string
	require.NoError(t, json.Unmarshal(env.Response, &names))
	assert.Equal(t, []string{"sophia"}, names)
}

func TestSetWeightsAndWeights(t *testing.T) {
	r, fixture := setupRouter(t)
	sid := fixture.Start()

	_, env := get(t, r, "/set_weights", url.Values{"session": {sid}, "param": {"generic.pattern=0.25"}})
	require.Equal(t, 0, env.Ret, string(env.Response))

	code, env := get(t, r, "/weights", url.Values{"session": {sid}})
	require.Equal(t, http.StatusOK, code)
	var weights []chatService.ResponderWeight
	require.NoError(t, json.Unmarshal(env.Response, &weights))
	require.Len(t, weights, 2)
	assert.Equal(t, 1.0, weights[0].Weight)
	assert.Equal(t, 0.25, weights[1].Weight)

	_, env = get(t, r, "/set_weights", url.Values{"session": {sid}, "param": {"reset"}})
	require.Equal(t, 0, env.Ret)
	_, env = get(t, r, "/chatbots", url.Values{"session": {sid}})
	require.NoError(t, json.Unmarshal(env.Response, &weights))
	assert.Equal(t, 1.0, weights[1].Weight)
}

func TestSetWeightsRejectsBadInput(t *testing.T) {
	r, fixture := setupRouter(t)
	sid := fixture.Start()

	_, env := get(t, r, "/set_weights", url.Values{"session": {sid}, "param": {"generic.pattern=2"}})
	assert.Equal(t, 1, env.Ret)

	_, env = get(t, r, "/set_weights", url.Values{"session": {"missing"}, "param": {"reset"}})
	assert.Equal(t, 1, env.Ret)
	assert.JSONEq(t, `"No such session"`, string(env.Response))

	code, _ := get(t, r, "/set_weights", url.Values{"session": {sid}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestWeightsUnknownSession(t *testing.T) {
	r, _ := setupRouter(t)

	code, env := get(t, r, "/weights", url.Values{"session": {"missing"}})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, http.StatusNotFound, env.Ret)
}

func TestSetGlobalWeight(t *testing.T) {
	r, fixture := setupRouter(t)
	sid := fixture.Start()

	_, env := get(t, r, "/set_global_weight", url.Values{"responder": {"generic.pattern"}, "weight": {"0.4"}})
	require.Equal(t, 0, env.Ret, string(env.Response))

	_, env = get(t, r, "/weights", url.Values{"session": {sid}})
	var weights []chatService.ResponderWeight
	require.NoError(t, json.Unmarshal(env.Response, &weights))
	require.Len(t, weights, 2)
	assert.Equal(t, 0.4, weights[1].Weight)

	_, env = get(t, r, "/set_global_weight", url.Values{"responder": {"generic.pattern"}, "weight": {"1.5"}})
	assert.Equal(t, 1, env.Ret)

	code, _ := get(t, r, "/set_global_weight", url.Values{"responder": {"nobody"}, "weight": {"0.5"}})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, r, "/set_global_weight", url.Values{"responder": {"generic.pattern"}, "weight": {"high"}})
	assert.Equal(t, http.StatusBadRequest, code)
}
