package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/OABroadcast/internal/api"
	"github.com/Mutter0815/OABroadcast/internal/broadcast"
	"github.com/Mutter0815/OABroadcast/internal/compose"
	"github.com/Mutter0815/OABroadcast/internal/cooldown"
	"github.com/Mutter0815/OABroadcast/internal/gateway"
	"github.com/Mutter0815/OABroadcast/internal/history"
	"github.com/Mutter0815/OABroadcast/internal/kv"
	"github.com/Mutter0815/OABroadcast/internal/prefs"
	"github.com/Mutter0815/OABroadcast/internal/recipient"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeUploader struct {
	gotToken string
	gotBody  []byte
	err      error
}

func (f *fakeUploader) UploadImage(ctx context.Context, token, filename string, r io.Reader) (string, error) {
	f.gotToken = token
	f.gotBody, _ = io.ReadAll(r)
	if f.err != nil {
		return "", f.err
	}
	return "att-" + filename, nil
}

type fakeDirectory struct {
	gotQuery gateway.ListQuery
	err      error
	forgot   int
}

func (f *fakeDirectory) Fetch(ctx context.Context, token string, q gateway.ListQuery) ([]recipient.Recipient, int, error) {
	f.gotQuery = q
	if f.err != nil {
		return nil, 0, f.err
	}
	return []recipient.Recipient{{ID: "u1", Name: "An"}, {ID: "u2", Name: recipient.NoName}}, 7, nil
}

func (f *fakeDirectory) Forget() { f.forgot++ }

type fakeRunner struct {
	got     broadcast.Request
	err     error
	running bool
}

func (f *fakeRunner) Start(req broadcast.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.got = req
	f.running = true
	return "run-1", nil
}

func (f *fakeRunner) Snapshot() broadcast.Snapshot {
	st := broadcast.StateIdle
	if f.running {
		st = broadcast.StateRunning
	}
	return broadcast.Snapshot{RunID: "run-1", State: st, Outcomes: []broadcast.Outcome{}}
}

func (f *fakeRunner) Cancel() bool {
	was := f.running
	f.running = false
	return was
}

type recordingSender struct{ to []string }

func (s *recordingSender) SendPromotion(_ context.Context, _ string, m compose.Message) error {
	s.to = append(s.to, m.RecipientID)
	return nil
}

type testEnv struct {
	h      *Handlers
	srv    *http.Server
	dir    *fakeDirectory
	up     *fakeUploader
	runner *fakeRunner
	sender *recordingSender
}

func newEnv() *testEnv {
	s := kv.NewMemory()
	l := cooldown.New(s)
	hb := history.New(s, l)
	e := &testEnv{
		dir:    &fakeDirectory{},
		up:     &fakeUploader{},
		runner: &fakeRunner{},
		sender: &recordingSender{},
	}
	e.h = NewHandlers(Deps{
		Prefs:      prefs.New(s),
		Recipients: recipient.NewList(),
		Ledger:     l,
		History:    hb,
		Uploader:   e.up,
		Directory:  e.dir,
		Runner:     e.runner,
		SelfSender: broadcast.NewDriver(e.sender, l, hb, 0),
	})
	e.srv = NewHTTPServer(":0", e.h)
	return e
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestSettings_MasksToken(t *testing.T) {
	e := newEnv()

	rr := e.do(http.MethodPut, "/settings", `{"access_token":"abcd1234wxyz","self_user_id":"me"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "abcd1234wxyz") {
		t.Fatalf("token leaked: %s", rr.Body.String())
	}
	var out api.SettingsResp
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.AccessTokenSet || out.AccessTokenMasked != "abcd****wxyz" || out.SelfUserID != "me" {
		t.Fatalf("unexpected settings %+v", out)
	}
	if e.dir.forgot != 1 {
		t.Fatalf("directory cache not flushed on token change")
	}

	// self id alone leaves the token and cache untouched
	e.do(http.MethodPut, "/settings", `{"self_user_id":"me2"}`)
	if e.dir.forgot != 1 {
		t.Fatalf("cache flushed without token change")
	}
}

func TestFetchDirectory_ReplacesList(t *testing.T) {
	e := newEnv()

	rr := e.do(http.MethodPost, "/directory/fetch", `{"count":10,"period":"L7D"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !e.dir.gotQuery.IsFollower || e.dir.gotQuery.Period != "L7D" {
		t.Fatalf("unexpected query %+v", e.dir.gotQuery)
	}
	var out api.FetchDirectoryResp
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 7 || len(out.Recipients) != 2 || e.h.Recipients.Len() != 2 {
		t.Fatalf("unexpected body %+v", out)
	}
}

func TestFetchDirectory_GatewayErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"no token", gateway.ErrNoToken, http.StatusBadRequest},
		{"bad query", gateway.ErrInvalidQuery, http.StatusBadRequest},
		{"api", &gateway.APIError{Code: -216, Message: "access token invalid"}, http.StatusBadGateway},
		{"http", &gateway.HTTPError{Status: 503}, http.StatusBadGateway},
		{"transport", errors.New("dial tcp: refused"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv()
			e.dir.err = tc.err
			rr := e.do(http.MethodPost, "/directory/fetch", `{"count":10,"period":"TODAY"}`)
			if rr.Code != tc.want {
				t.Fatalf("want %d, got %d (%s)", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestFetchDirectory_BindingError(t *testing.T) {
	e := newEnv()
	rr := e.do(http.MethodPost, "/directory/fetch", `{"period":"TODAY"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRecipients_EditAndRemove(t *testing.T) {
	e := newEnv()

	rr := e.do(http.MethodPut, "/recipients", `{"recipients":[{"user_id":"u1"},{"user_id":"u1"},{"user_id":" "},{"user_id":"u2"}]}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"kept":2`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = e.do(http.MethodPatch, "/recipients/u2", `{"code":"VIP"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"code":"VIP"`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr := e.do(http.MethodPatch, "/recipients/nope", `{"code":"X"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	if rr := e.do(http.MethodDelete, "/recipients/u1", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := e.h.Recipients.IDs(); len(got) != 1 || got[0] != "u2" {
		t.Fatalf("unexpected list %v", got)
	}
}

func TestTemplate_ValidateAndFormat(t *testing.T) {
	e := newEnv()

	bad := `{"body":"x","table_rows":[],"booking_button":{"enabled":false}}`
	if rr := e.do(http.MethodPut, "/template", bad); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty table, got %d", rr.Code)
	}

	good := `{"body":"Hi\n- one","table_rows":[{"label":"Code"}]}`
	rr := e.do(http.MethodPut, "/template", good)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"header_align":"left"`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = e.do(http.MethodPost, "/template/format-body", "")
	var f api.FormatBodyResp
	if err := json.Unmarshal(rr.Body.Bytes(), &f); err != nil {
		t.Fatal(err)
	}
	if f.Original != "Hi\n- one" || f.Body != compose.FormatBody("Hi\n- one") {
		t.Fatalf("unexpected format %+v", f)
	}

	// formatting twice keeps the first original
	rr = e.do(http.MethodPost, "/template/format-body", "")
	_ = json.Unmarshal(rr.Body.Bytes(), &f)
	if f.Original != "Hi\n- one" {
		t.Fatalf("original lost: %+v", f)
	}

	rr = e.do(http.MethodPost, "/template/restore-body", "")
	if rr.Code != http.StatusOK || e.h.ws.template().Body != "Hi\n- one" {
		t.Fatalf("restore failed: %d %s", rr.Code, rr.Body.String())
	}
	if rr := e.do(http.MethodPost, "/template/restore-body", ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func multipartImage(t *testing.T, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

var pngHead = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestUploadAttachment(t *testing.T) {
	e := newEnv()
	_ = e.h.Prefs.SetToken(context.Background(), "tok")

	body, ct := multipartImage(t, "banner.png", pngHead)
	req := httptest.NewRequest(http.MethodPost, "/attachments", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if e.up.gotToken != "tok" || !bytes.Equal(e.up.gotBody, pngHead) {
		t.Fatalf("upload not forwarded intact")
	}
	var out api.AttachmentsResp
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Current != "att-banner.png" || len(out.Recent) != 1 {
		t.Fatalf("unexpected attachments %+v", out)
	}
}

func TestUploadAttachment_RejectsNonImage(t *testing.T) {
	e := newEnv()

	body, ct := multipartImage(t, "notes.txt", []byte("just some text"))
	req := httptest.NewRequest(http.MethodPost, "/attachments", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rr.Code)
	}
	if e.up.gotBody != nil {
		t.Fatalf("gateway should not be called")
	}
}

func TestUploadAttachment_TooLarge(t *testing.T) {
	e := newEnv()

	data := append(append([]byte(nil), pngHead...), make([]byte, MaxImageSize)...)
	body, ct := multipartImage(t, "big.png", data)
	req := httptest.NewRequest(http.MethodPost, "/attachments", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestSelectAttachment(t *testing.T) {
	e := newEnv()
	if rr := e.do(http.MethodPut, "/attachments/current", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	rr := e.do(http.MethodPut, "/attachments/current", `{"attachment_id":"a9"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"current":"a9"`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestStartBroadcast(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	_ = e.h.Prefs.SetToken(ctx, "tok")
	_ = e.h.Prefs.SetCurrentAttachment(ctx, "att1")
	e.h.Recipients.Replace([]recipient.Recipient{{ID: "u1"}, {ID: "u2"}})

	rr := e.do(http.MethodPost, "/broadcasts", "")
	if rr.Code != http.StatusAccepted || !strings.Contains(rr.Body.String(), `"run_id":"run-1"`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	got := e.runner.got
	if got.Token != "tok" || got.AttachmentID != "att1" || len(got.Recipients) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}

	rr = e.do(http.MethodGet, "/broadcasts/current", "")
	if !strings.Contains(rr.Body.String(), `"state":"running"`) {
		t.Fatalf("unexpected snapshot %s", rr.Body.String())
	}

	if rr := e.do(http.MethodPost, "/broadcasts/current/cancel", ""); rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if rr := e.do(http.MethodPost, "/broadcasts/current/cancel", ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestStartBroadcast_Errors(t *testing.T) {
	e := newEnv()

	e.runner.err = broadcast.ErrNoRecipients
	if rr := e.do(http.MethodPost, "/broadcasts", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	e.runner.err = broadcast.ErrBusy
	if rr := e.do(http.MethodPost, "/broadcasts", ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestSelfTest(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	if rr := e.do(http.MethodPost, "/self-test", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without self id, got %d", rr.Code)
	}

	_ = e.h.Prefs.SetToken(ctx, "tok")
	_ = e.h.Prefs.SetCurrentAttachment(ctx, "att1")
	_ = e.h.Prefs.SetSelfID(ctx, "me")
	// the default table needs a name to render
	e.h.Recipients.Replace([]recipient.Recipient{{ID: "me", Name: "Operator"}})

	rr := e.do(http.MethodPost, "/self-test", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"sent"`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if len(e.sender.to) != 1 || e.sender.to[0] != "me" {
		t.Fatalf("unexpected sends %v", e.sender.to)
	}
	es, _ := e.h.Ledger.Entries(ctx)
	if len(es) != 0 {
		t.Fatalf("self test must not touch the ledger: %+v", es)
	}
}

func TestHistoryAndCooldowns(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for _, id := range []string{"u1", "u2"} {
		_ = e.h.Ledger.Record(ctx, id, now)
		if _, err := e.h.History.Record(ctx, recipient.Recipient{ID: id}, "", now); err != nil {
			t.Fatal(err)
		}
	}

	rr := e.do(http.MethodGet, "/history", "")
	var items []history.Item
	if err := json.Unmarshal(rr.Body.Bytes(), &items); err != nil || len(items) != 2 {
		t.Fatalf("unexpected history %s", rr.Body.String())
	}

	if rr := e.do(http.MethodDelete, "/history/nope", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr = e.do(http.MethodPost, "/history/delete", `{"ids":["`+items[0].ID+`","missing"]}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"deleted":1`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = e.do(http.MethodGet, "/cooldowns", "")
	var es []cooldown.Entry
	if err := json.Unmarshal(rr.Body.Bytes(), &es); err != nil || len(es) != 1 {
		t.Fatalf("unexpected cooldowns %s", rr.Body.String())
	}

	if rr := e.do(http.MethodDelete, "/history", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	es, _ = e.h.Ledger.Entries(ctx)
	if len(es) != 0 {
		t.Fatalf("ledger not cleared with history")
	}
}

func TestClearCooldowns(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	_ = e.h.Ledger.Record(ctx, "u1", time.Now())

	if rr := e.do(http.MethodDelete, "/cooldowns", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	es, _ := e.h.Ledger.Entries(ctx)
	if len(es) != 0 {
		t.Fatalf("ledger not cleared")
	}
}

func TestDocs(t *testing.T) {
	e := newEnv()

	rr := e.do(http.MethodGet, "/docs", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "SwaggerUIBundle") {
		t.Fatalf("docs page: %d", rr.Code)
	}
	rr = e.do(http.MethodGet, "/docs/console/openapi.yaml", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "openapi: 3.0.3") {
		t.Fatalf("openapi: %d", rr.Code)
	}
}
