package data

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Path string
	Body map[string]interface{}
}

func newProviderServer(t *testing.T, status int, reply string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{Path: r.URL.Path, Body: body})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func testProvider(apiURL string) *biz.Provider {
	return &biz.Provider{ID: "p1", APIKey: "secret", APIURL: apiURL, Active: true}
}

func newTestProviderClient(timeout time.Duration) biz.ProviderAPI {
	return NewProviderClient(&biz.FulfillmentConfig{ProviderRequestTimeout: timeout}, log.DefaultLogger)
}

func TestProviderClient_AddOrder(t *testing.T) {
	srv, reqs := newProviderServer(t, http.StatusOK, `{"order":555}`)
	c := newTestProviderClient(time.Second)

	res := c.AddOrder(context.Background(), testProvider(srv.URL+"/api/v2"), &biz.AddOrderRequest{
		Service: "svc-1", Link: "https://instagram.com/p/x", Quantity: 100,
	})
	require.Equal(t, biz.ResultOK, res.Kind, res.Detail)
	assert.Equal(t, "555", res.ExternalOrderID)
	assert.Equal(t, float64(555), res.Reply.Payload["order"])

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, "/api/v2", got.Path)
	assert.Equal(t, map[string]interface{}{
		"key":      "secret",
		"action":   "add",
		"service":  "svc-1",
		"link":     "https://instagram.com/p/x",
		"quantity": float64(100),
	}, got.Body)
}

func TestProviderClient_AddOrderKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
		want   biz.ResultKind
		id     string
	}{
		{"string order id", http.StatusOK, `{"order":"A-1","status":"Pending"}`, biz.ResultOK, "A-1"},
		{"error shape", http.StatusOK, `{"error":"Not enough funds"}`, biz.ResultMalformed, ""},
		{"not json", http.StatusOK, `<html>maintenance</html>`, biz.ResultMalformed, ""},
		{"json array", http.StatusOK, `[1,2]`, biz.ResultMalformed, ""},
		{"server error", http.StatusBadGateway, `bad gateway`, biz.ResultTransportError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newProviderServer(t, tt.status, tt.reply)
			c := newTestProviderClient(time.Second)
			res := c.AddOrder(context.Background(), testProvider(srv.URL+"/api/v2"), &biz.AddOrderRequest{Service: "1"})
			assert.Equal(t, tt.want, res.Kind)
			assert.Equal(t, tt.id, res.ExternalOrderID)
		})
	}
}

func TestProviderClient_MalformedKeepsRawAndError(t *testing.T) {
	srv, _ := newProviderServer(t, http.StatusOK, `{"error":"Incorrect service ID"}`)
	c := newTestProviderClient(time.Second)

	res := c.AddOrder(context.Background(), testProvider(srv.URL), &biz.AddOrderRequest{Service: "1"})
	assert.Equal(t, biz.ResultMalformed, res.Kind)
	assert.Equal(t, "provider error: Incorrect service ID", res.Detail)
	assert.JSONEq(t, `{"error":"Incorrect service ID"}`, res.Reply.RawString())
}

func TestProviderClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
		_, _ = io.WriteString(w, `{"order":1}`)
	}))
	defer srv.Close()

	c := newTestProviderClient(100 * time.Millisecond)
	res := c.AddOrder(context.Background(), testProvider(srv.URL), &biz.AddOrderRequest{Service: "1"})
	assert.Equal(t, biz.ResultTransportError, res.Kind)
	assert.NotEmpty(t, res.Detail)
}

func TestProviderClient_StatusAndRefill(t *testing.T) {
	srv, reqs := newProviderServer(t, http.StatusOK, `{"status":"Completed","remains":"0","refill":"r-77"}`)
	c := newTestProviderClient(time.Second)
	p := testProvider(srv.URL + "/api/v2")

	st := c.OrderStatus(context.Background(), p, "555")
	require.Equal(t, biz.ResultOK, st.Kind)
	assert.Equal(t, "Completed", st.Status)

	rf := c.Refill(context.Background(), p, "555")
	require.Equal(t, biz.ResultOK, rf.Kind)
	assert.Equal(t, "r-77", rf.RefillID)

	require.Len(t, *reqs, 2)
	assert.Equal(t, "status", (*reqs)[0].Body["action"])
	assert.Equal(t, "555", (*reqs)[0].Body["order"])
	assert.Equal(t, "refill", (*reqs)[1].Body["action"])
}

func TestProviderClient_StatusMissing(t *testing.T) {
	srv, _ := newProviderServer(t, http.StatusOK, `{"charge":"0.1"}`)
	c := newTestProviderClient(time.Second)

	st := c.OrderStatus(context.Background(), testProvider(srv.URL), "555")
	assert.Equal(t, biz.ResultMalformed, st.Kind)
	assert.Equal(t, "response has no status", st.Detail)
}

func TestProviderClient_InvalidURL(t *testing.T) {
	c := newTestProviderClient(time.Second)
	res := c.AddOrder(context.Background(), testProvider("not a url"), &biz.AddOrderRequest{})
	assert.Equal(t, biz.ResultTransportError, res.Kind)
}

func TestSplitAPIURL(t *testing.T) {
	endpoint, path, err := splitAPIURL("https://panel.example.com/api/v2?lang=en")
	require.NoError(t, err)
	assert.Equal(t, "https://panel.example.com", endpoint)
	assert.Equal(t, "/api/v2?lang=en", path)

	endpoint, path, err = splitAPIURL("http://127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", endpoint)
	assert.Equal(t, "/", path)

	_, _, err = splitAPIURL("")
	assert.Error(t, err)
}
