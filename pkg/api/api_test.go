package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatsync/pkg/encryption"
	"chatsync/pkg/gateway"
	"chatsync/pkg/models"
	"chatsync/pkg/pipeline"
	"chatsync/pkg/security"
	"chatsync/pkg/store"
	"chatsync/pkg/vault"
)

// fakeServer stands in for the remote chat server on all gateway
// interfaces the components need.
type fakeServer struct {
	keys gateway.Keys
}

func (f *fakeServer) SendMessage(context.Context, gateway.OutboundMessage) (gateway.SendResult, error) {
	return gateway.SendResult{Success: true}, nil
}

func (f *fakeServer) ServerInfo(context.Context) (gateway.ServerInfo, error) {
	return gateway.ServerInfo{E2EEnabled: true}, nil
}

func (f *fakeServer) FetchMyKeys(context.Context) (gateway.Keys, error) {
	return f.keys, nil
}

func (f *fakeServer) StoreMyKeys(_ context.Context, pub, priv string) error {
	f.keys = gateway.Keys{PublicKey: pub, PrivateKey: priv}
	return nil
}

func setupAPI(t *testing.T) (*httptest.Server, *store.Store, *encryption.Manager, *pipeline.Pipeline, *fakeServer) {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	v, err := vault.Open(t.TempDir()+"/keys.enc", "")
	if err != nil {
		t.Fatal(err)
	}
	fs := &fakeServer{}
	mgr := encryption.NewManager(st, v, fs, 1)
	pipe := pipeline.New(st, fs, mgr, "srv1")

	srv := httptest.NewServer(Handler(Deps{Store: st, Pipe: pipe, Manager: mgr}))
	t.Cleanup(srv.Close)
	return srv, st, mgr, pipe, fs
}

func TestSubmitEndpoint(t *testing.T) {
	srv, st, _, pipe, _ := setupAPI(t)

	body := `{"msg": "hello", "u": {"id": "u1", "username": "alice"}}`
	res, err := http.Post(srv.URL+"/v1/rooms/r1/messages", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", res.StatusCode)
	}
	var out models.Message
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if out.ID == "" || out.Status != models.StatusTemp {
		t.Fatalf("response = %+v", out)
	}

	pipe.Wait()
	got, err := st.GetMessage(out.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusSent {
		t.Fatalf("status after delivery = %q", got.Status)
	}

	// readable back over the API
	res, err = http.Get(srv.URL + "/v1/messages/" + out.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", res.StatusCode)
	}
}

func TestSubmitEndpointValidation(t *testing.T) {
	srv, _, _, _, _ := setupAPI(t)

	res, err := http.Post(srv.URL+"/v1/rooms/r1/messages", "application/json", bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}

	res, err = http.Post(srv.URL+"/v1/rooms/r1/messages", "application/json", bytes.NewBufferString(`not json`))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestResendEndpointRejectsSentMessage(t *testing.T) {
	srv, st, _, _, _ := setupAPI(t)

	if err := st.PutMessage(&models.Message{ID: "ok1", SubscriptionID: "r1", Status: models.StatusSent}); err != nil {
		t.Fatal(err)
	}
	res, err := http.Post(srv.URL+"/v1/messages/ok1/resend", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", res.StatusCode)
	}
}

func TestBannerEndpoint(t *testing.T) {
	srv, _, mgr, _, fs := setupAPI(t)

	kp, err := security.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	wrapped, err := security.WrapPrivateKey(kp.Private, "pass123", "u1")
	if err != nil {
		t.Fatal(err)
	}
	fs.keys = gateway.Keys{PublicKey: kp.Public, PrivateKey: wrapped}
	mgr.Init(context.Background(), "srv1", "u1")

	res, err := http.Get(srv.URL + "/v1/encryption/banner")
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Banner string `json:"banner"`
		State  string `json:"state"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if out.Banner != "REQUEST_PASSWORD" || out.State != "AWAITING_PASSWORD" {
		t.Fatalf("banner = %+v", out)
	}
}

func TestPasswordEndpoint(t *testing.T) {
	srv, _, mgr, _, fs := setupAPI(t)

	kp, err := security.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	wrapped, err := security.WrapPrivateKey(kp.Private, "pass123", "u1")
	if err != nil {
		t.Fatal(err)
	}
	fs.keys = gateway.Keys{PublicKey: kp.Public, PrivateKey: wrapped}
	mgr.Init(context.Background(), "srv1", "u1")

	res, err := http.Post(srv.URL+"/v1/encryption/password", "application/json",
		bytes.NewBufferString(`{"password": "wrong"}`))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", res.StatusCode)
	}

	res, err = http.Post(srv.URL+"/v1/encryption/password", "application/json",
		bytes.NewBufferString(`{"password": "pass123"}`))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	mgr.WaitSweep()
	if !mgr.Ready() {
		t.Fatal("manager not ready after decode")
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _, _, _ := setupAPI(t)
	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestMetricsExposed(t *testing.T) {
	srv, _, _, _, _ := setupAPI(t)
	res, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}
