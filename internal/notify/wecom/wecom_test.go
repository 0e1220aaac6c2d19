package wecom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Aixtrade/LLMTrigger/internal/models"
	"github.com/Aixtrade/LLMTrigger/internal/notify"
)

func task() *models.NotificationTask {
	return &models.NotificationTask{TaskID: "notify_w1", Message: "## alert"}
}

func channelFor(server *httptest.Server) *Channel {
	c := NewChannel()
	c.baseURL = server.URL
	return c
}

func TestSend_Success(t *testing.T) {
	var gotKey string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"errcode":0,"errmsg":"ok"}`)
	}))
	defer server.Close()

	c := channelFor(server)
	err := c.Send(context.Background(), models.NotifyTarget{Type: models.TargetWeCom, WebhookKey: "wh-key"}, task())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotKey != "wh-key" {
		t.Errorf("webhook key = %q", gotKey)
	}
	if gotBody["msgtype"] != "markdown" {
		t.Errorf("msgtype = %v", gotBody["msgtype"])
	}
}

func TestSend_MissingKey(t *testing.T) {
	c := NewChannel()
	err := c.Send(context.Background(), models.NotifyTarget{Type: models.TargetWeCom}, task())
	if !notify.IsPermanent(err) {
		t.Errorf("missing webhook_key should be permanent, got %v", err)
	}
}

func TestSend_ErrcodeClassification(t *testing.T) {
	tests := []struct {
		name      string
		errcode   int
		permanent bool
	}{
		{"invalid key is permanent", 93000, true},
		{"rate limited is transient", 45009, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"errcode":%d,"errmsg":"nope"}`, tt.errcode)
			}))
			defer server.Close()

			c := channelFor(server)
			err := c.Send(context.Background(), models.NotifyTarget{WebhookKey: "k"}, task())
			if err == nil {
				t.Fatal("expected error")
			}
			if notify.IsPermanent(err) != tt.permanent {
				t.Errorf("IsPermanent = %v, want %v (err %v)", notify.IsPermanent(err), tt.permanent, err)
			}
		})
	}
}

func TestSend_ServerErrorTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := channelFor(server)
	err := c.Send(context.Background(), models.NotifyTarget{WebhookKey: "k"}, task())
	if err == nil || notify.IsPermanent(err) {
		t.Errorf("5xx should be transient, got %v", err)
	}
}
