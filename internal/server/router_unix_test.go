//go:build !windows

package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/applauncher/internal/events"
	mng "github.com/loykin/applauncher/internal/manager"
)

func TestLaunchToggleAndStatus(t *testing.T) {
	_, r := setupRouter(t, "")
	h := r.Handler()
	doReq(t, h, http.MethodPost, "/profiles", nameReq{Name: "Dev"})
	doReq(t, h, http.MethodPost, "/profiles/Dev/apps", appReq{Name: "Editor", Path: "/bin/sleep", Arguments: "30"})
	doReq(t, h, http.MethodPost, "/profiles/Dev/apps", appReq{Name: "Broken", Path: "/nonexistent/app"})

	rec := doReq(t, h, http.MethodPost, "/profiles/Dev/launch", nil)
	var res mng.Result
	decode(t, rec, &res)
	if res.Action != mng.ActionLaunched || !res.Running || len(res.Started) != 1 {
		t.Fatalf("unexpected launch result: %+v", res)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != mng.WarnLaunchFailed || res.Warnings[0].Entry != "Broken" {
		t.Fatalf("expected one launch warning: %+v", res.Warnings)
	}

	rec = doReq(t, h, http.MethodGet, "/status", nil)
	var st StatusResp
	decode(t, rec, &st)
	if len(st.Running) != 1 || st.Running[0] != "Dev" {
		t.Fatalf("unexpected status: %+v", st)
	}

	rec = doReq(t, h, http.MethodPost, "/profiles/Dev/launch", nil)
	decode(t, rec, &res)
	if res.Action != mng.ActionStopped || res.Running || res.Killed != 1 {
		t.Fatalf("unexpected toggle result: %+v", res)
	}
}

func TestEventsStream(t *testing.T) {
	mgr, r := setupRouter(t, "")
	bus := events.NewBus()
	mgr.SetBus(bus)
	r.SetBus(bus)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	doReq(t, r.Handler(), http.MethodPost, "/profiles", nameReq{Name: "Dev"})
	doReq(t, r.Handler(), http.MethodPost, "/profiles/Dev/apps", appReq{Name: "Editor", Path: "/bin/sleep", Arguments: "30"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()

	// headers arrive once the handler has subscribed
	if _, err := mgr.Launch(context.Background(), "Dev"); err != nil {
		t.Fatalf("launch: %v", err)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "event:"+string(events.ProfileRunningChanged) {
			return
		}
	}
	t.Fatalf("no running-change event received: %v", sc.Err())
}
