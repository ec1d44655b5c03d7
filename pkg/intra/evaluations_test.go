package intra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestCompletedEvaluations_ParsesAndSorts(t *testing.T) {
	doer := newFakeDoer()
	doer.respond(http.MethodGet, "/v2/projects/1/scale_teams", http.StatusOK, `[
		{"id":2,"scale_id":3,"created_at":"2022-05-18T10:00:00.000Z","final_mark":84,
		 "corrector":{"id":8,"login":"fbes"},"scale":{"id":3,"correction_number":3}},
		{"id":1,"scale_id":3,"created_at":"2022-05-18T09:00:00.000Z","final_mark":null,
		 "corrector":{"id":7,"login":"jkoers"},"scale":{"id":3,"correction_number":3}}
	]`)
	client := newTestClient(doer)

	records, err := client.CompletedEvaluations(context.Background(), 1, 3, 55)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	// Oldest first, regardless of wire order.
	if records[0].Corrector == nil || records[0].Corrector.Login != "jkoers" {
		t.Errorf("expected jkoers first, got %+v", records[0].Corrector)
	}
	if records[0].FinalMark != nil {
		t.Errorf("expected nil final mark preserved, got %v", *records[0].FinalMark)
	}
	if records[1].FinalMark == nil || *records[1].FinalMark != 84 {
		t.Errorf("expected final mark 84, got %v", records[1].FinalMark)
	}
	if records[0].RequiredReviewCount != 3 {
		t.Errorf("expected required review count from the scale, got %d", records[0].RequiredReviewCount)
	}

	req := doer.requests[0]
	if !strings.Contains(req.Query, "filter%5Bscale_id%5D=3") || !strings.Contains(req.Query, "filter%5Bteam_id%5D=55") {
		t.Errorf("expected scale and team filters, got %q", req.Query)
	}
}

func TestCompletedEvaluations_MissingCorrector(t *testing.T) {
	doer := newFakeDoer()
	doer.respond(http.MethodGet, "/v2/projects/1/scale_teams", http.StatusOK, `[
		{"id":1,"scale_id":3,"created_at":"2022-05-18T09:00:00.000Z","final_mark":0,
		 "corrector":null,"scale":{"id":3,"correction_number":3}}
	]`)
	client := newTestClient(doer)

	records, err := client.CompletedEvaluations(context.Background(), 1, 3, 55)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records[0].Corrector != nil {
		t.Errorf("expected nil corrector preserved, got %+v", records[0].Corrector)
	}
}

func TestPendingLocks_Paginates(t *testing.T) {
	doer := newFakeDoer()
	// A full first page forces a second fetch; the short second page ends it.
	var page1 []string
	for i := 1; i <= perPageLimit; i++ {
		page1 = append(page1, fmt.Sprintf(
			`{"id":%d,"scale_id":3,"created_at":"2022-05-18T09:00:00.000Z","team":{"id":%d,"project_id":1}}`, i, i*10))
	}
	doer.respond(http.MethodGet, "/v2/users/424242/scale_teams", http.StatusOK, "["+strings.Join(page1, ",")+"]")
	doer.respond(http.MethodGet, "/v2/users/424242/scale_teams", http.StatusOK, `[
		{"id":500,"scale_id":3,"created_at":"2022-05-18T10:00:00.000Z","team":{"id":5000,"project_id":2},
		 "correcteds":[{"id":100,"login":"joppe"},{"id":101,"login":"nvan"}]}
	]`)
	client := newTestClient(doer)

	locks, err := client.PendingLocks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(locks) != perPageLimit+1 {
		t.Fatalf("expected %d locks across pages, got %d", perPageLimit+1, len(locks))
	}
	if len(doer.requests) != 2 {
		t.Fatalf("expected 2 page fetches, got %d", len(doer.requests))
	}
	if !strings.Contains(doer.requests[0].Query, "page%5Bnumber%5D=1") ||
		!strings.Contains(doer.requests[1].Query, "page%5Bnumber%5D=2") {
		t.Errorf("expected sequential page numbers, got %q then %q", doer.requests[0].Query, doer.requests[1].Query)
	}
	if !strings.Contains(doer.requests[0].Query, "filter%5Bfuture%5D=true") {
		t.Errorf("expected the future filter, got %q", doer.requests[0].Query)
	}

	last := locks[perPageLimit]
	if last.LockID != 500 || last.TeamID != 5000 || last.ProjectID != 2 {
		t.Errorf("unexpected lock %+v", last)
	}
	if len(last.Subjects) != 2 || last.Subjects[0].Login != "joppe" {
		t.Errorf("expected the correcteds as subjects, got %+v", last.Subjects)
	}
}

func TestPendingLocks_EmptyFirstPage(t *testing.T) {
	doer := newFakeDoer()
	doer.respond(http.MethodGet, "/v2/users/424242/scale_teams", http.StatusOK, `[]`)
	client := newTestClient(doer)

	locks, err := client.PendingLocks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(locks) != 0 {
		t.Errorf("expected no locks, got %d", len(locks))
	}
	if len(doer.requests) != 1 {
		t.Errorf("expected a single page fetch, got %d", len(doer.requests))
	}
}

func TestDeleteLock(t *testing.T) {
	tests := []struct {
		wantErr error
		name    string
		status  int
		ok      bool
	}{
		{name: "no content", status: http.StatusNoContent, ok: true},
		{name: "ok", status: http.StatusOK, ok: true},
		{name: "gone", status: http.StatusNotFound, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := newFakeDoer()
			doer.respond(http.MethodDelete, "/v2/scale_teams/7", tt.status, "")
			client := newTestClient(doer)

			err := client.DeleteLock(context.Background(), 7)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreateBooking_Payload(t *testing.T) {
	doer := newFakeDoer()
	doer.respond(http.MethodPost, "/v2/scale_teams/multiple_create", http.StatusCreated, "{}")
	client := newTestClient(doer)

	beginAt := time.Date(2022, 5, 18, 12, 20, 0, 0, time.UTC)
	if err := client.CreateBooking(context.Background(), 3, 55, 7, beginAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := doer.requests[0].Body
	// The API wants ids as strings and begin_at in UTC.
	for _, want := range []string{
		`"begin_at":"2022-05-18 12:20:00 UTC"`,
		`"scale_id":"3"`,
		`"team_id":"55"`,
		`"user_id":"7"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in payload, got %s", want, body)
		}
	}
}

func TestCreateBooking_ConflictStatuses(t *testing.T) {
	for _, status := range []int{http.StatusConflict, http.StatusUnprocessableEntity} {
		doer := newFakeDoer()
		doer.respond(http.MethodPost, "/v2/scale_teams/multiple_create", status, "{}")
		client := newTestClient(doer)

		err := client.CreateBooking(context.Background(), 3, 55, 7, testTime)
		if !errors.Is(err, ErrConflict) {
			t.Errorf("status %d: expected ErrConflict, got %v", status, err)
		}
	}
}

func TestCreatePlaceholder_ParksAWeekOut(t *testing.T) {
	doer := newFakeDoer()
	doer.respond(http.MethodPost, "/v2/scale_teams/multiple_create", http.StatusCreated, "{}")
	client := newTestClient(doer)

	if err := client.CreatePlaceholder(context.Background(), 3, 55); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := doer.requests[0].Body
	want := testTime.Add(placeholderLeadDur).UTC().Format(beginAtFormat)
	if !strings.Contains(body, `"begin_at":"`+want+`"`) {
		t.Errorf("expected begin_at %q, got %s", want, body)
	}
	// The placeholder is held by the bot's own service account.
	if !strings.Contains(body, `"user_id":"424242"`) {
		t.Errorf("expected the bot uid as user, got %s", body)
	}
}

func TestParseIntraTime_MalformedFallsBackToZero(t *testing.T) {
	if got := parseIntraTime("yesterday-ish"); !got.IsZero() {
		t.Errorf("expected the zero time, got %v", got)
	}
	want := time.Date(2022, 5, 18, 9, 0, 0, 0, time.UTC)
	if got := parseIntraTime("2022-05-18T09:00:00.000Z"); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
