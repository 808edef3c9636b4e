package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"aniflux/models"
)

func TestGetPlayheads(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/content/v2/acct-1/playheads" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("content_ids"); got != "ep-1,ep-2,ep-3" {
			t.Errorf("content_ids = %q", got)
		}
		fmt.Fprint(w, `{"data":[
			{"content_id":"ep-1","playhead":120,"fully_watched":false},
			{"content_id":"ep-3","playhead":1400,"fully_watched":true}
		]}`)
	})
	client, _ := newTestClient(t, handler)

	records, err := client.GetPlayheads(context.Background(), []string{"ep-1", "ep-2", "ep-3"})
	if err != nil {
		t.Fatalf("GetPlayheads: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (ids without state are absent)", len(records))
	}

	// Missing ids fall back to the zero record.
	rec := models.LookupPlayhead(records, "ep-2")
	if rec.ContentID != "ep-2" || rec.Playhead != 0 || rec.FullyWatched {
		t.Errorf("default record = %+v", rec)
	}
	if got := models.LookupPlayhead(records, "ep-3"); got.Playhead != 1400 || !got.FullyWatched {
		t.Errorf("ep-3 record = %+v", got)
	}
}

func TestGetPlayheadsEmptyInputSkipsNetwork(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request for empty id set")
	})
	client, _ := newTestClient(t, handler)

	records, err := client.GetPlayheads(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetPlayheads: %v", err)
	}
	if records != nil {
		t.Errorf("records = %+v, want nil", records)
	}
}

func TestUpdatePlayhead(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/content/v2/acct-1/playheads" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			ContentID string `json:"content_id"`
			Playhead  int64  `json:"playhead"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if payload.ContentID != "ep-1" || payload.Playhead != 321 {
			t.Errorf("payload = %+v", payload)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	client, _ := newTestClient(t, handler)

	if err := client.UpdatePlayhead(context.Background(), "ep-1", 321); err != nil {
		t.Fatalf("UpdatePlayhead: %v", err)
	}
}

func TestConcurrentPlayheadReadsAndWrites(t *testing.T) {
	var mu sync.Mutex
	positions := map[string]int64{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			var payload struct {
				ContentID string `json:"content_id"`
				Playhead  int64  `json:"playhead"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				t.Errorf("decode body: %v", err)
				return
			}
			mu.Lock()
			positions[payload.ContentID] = payload.Playhead
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			mu.Lock()
			pos := positions["ep-1"]
			mu.Unlock()
			fmt.Fprintf(w, `{"data":[{"content_id":"ep-1","playhead":%d}]}`, pos)
		}
	})
	client, _ := newTestClient(t, handler)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if err := client.UpdatePlayhead(ctx, "ep-1", int64(i+1)*10); err != nil {
				t.Errorf("UpdatePlayhead: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := client.GetPlayheads(ctx, []string{"ep-1"}); err != nil {
				t.Errorf("GetPlayheads: %v", err)
			}
		}()
	}
	wg.Wait()

	// Once the writers have drained, the last write is what reads observe.
	if err := client.UpdatePlayhead(ctx, "ep-1", 777); err != nil {
		t.Fatalf("final UpdatePlayhead: %v", err)
	}
	records, err := client.GetPlayheads(ctx, []string{"ep-1"})
	if err != nil {
		t.Fatalf("final GetPlayheads: %v", err)
	}
	if got := models.LookupPlayhead(records, "ep-1").Playhead; got != 777 {
		t.Errorf("playhead = %d, want last write observed", got)
	}
}

func TestMarkFullyWatched(t *testing.T) {
	var gotPlayhead int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Playhead int64 `json:"playhead"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		gotPlayhead = payload.Playhead
		w.WriteHeader(http.StatusNoContent)
	})
	client, _ := newTestClient(t, handler)

	ep := models.Episode{ID: "ep-1", DurationMS: 1445500}
	if err := client.MarkFullyWatched(context.Background(), ep); err != nil {
		t.Fatalf("MarkFullyWatched: %v", err)
	}
	if gotPlayhead != 1445 {
		t.Errorf("playhead = %d, want full duration in seconds", gotPlayhead)
	}

	// Zero-duration episodes still report a positive position.
	if err := client.MarkFullyWatched(context.Background(), models.Episode{ID: "ep-2"}); err != nil {
		t.Fatal(err)
	}
	if gotPlayhead != 1 {
		t.Errorf("playhead = %d, want 1 for unknown duration", gotPlayhead)
	}
}
