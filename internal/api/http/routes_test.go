package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/certprep-core/internal/attempt"
	auth "github.com/mind-engage/certprep-core/internal/auth/middleware"
	"github.com/mind-engage/certprep-core/internal/exam"
	"github.com/mind-engage/certprep-core/internal/license"
	"github.com/mind-engage/certprep-core/internal/paywall"
	syncx "github.com/mind-engage/certprep-core/internal/sync"
)

type testAPI struct {
	srv   *httptest.Server
	auth  *auth.AuthService
	guard *license.Guard
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	bank := exam.NewInMemoryBank()
	var qs []exam.Question
	for n := int64(1); n <= 12; n++ {
		qs = append(qs, exam.Question{
			ID: n, Type: exam.SingleChoice, Position: int(n), Published: true,
			Options: []exam.Option{{ID: n*10 + 1, Label: "a", IsCorrect: true}, {ID: n*10 + 2, Label: "b"}},
		})
	}
	ex := exam.Exam{ID: 42, Code: "AZ-104", Title: "Azure Administrator", TimeLimitMinutes: 30, QuestionsPerMockTest: 4}
	if err := bank.PutExam(context.Background(), ex, qs); err != nil {
		t.Fatal(err)
	}
	guard := license.NewGuard(license.NewInMemoryStore(), 0)
	events := syncx.NewMemoryLog()
	engine := attempt.NewEngine(attempt.NewInMemoryStore(), bank, guard, events)
	a := auth.NewAuthService("test-secret")

	r := chi.NewRouter()
	Mount(r, Deps{Auth: a, Engine: engine, Guard: guard, Bank: bank, Paywall: paywall.NewGate(10), Events: events})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, auth: a, guard: guard}
}

func (api *testAPI) do(t *testing.T, sub, role, method, path, body string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, api.srv.URL+path, rd)
	tok, _ := api.auth.IssueJWT(sub, role)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func TestAttemptFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	var ent license.Entitlement
	code := api.do(t, "root", "admin", http.MethodPost, "/admin/entitlements",
		`{"user_id":"u1","exam_id":42,"expires_at":"`+time.Now().Add(24*time.Hour).UTC().Format(time.RFC3339)+`"}`, &ent)
	if code != http.StatusCreated || ent.ID == "" {
		t.Fatalf("create entitlement: %d %+v", code, ent)
	}

	var a attempt.Attempt
	if code := api.do(t, "u1", "student", http.MethodPost, "/exams/42/attempts", `{"device_fingerprint":"laptop"}`, &a); code != http.StatusOK {
		t.Fatalf("start: %d", code)
	}
	if len(a.QuestionIDs) != 4 {
		t.Fatalf("drew %v", a.QuestionIDs)
	}

	var again attempt.Attempt
	api.do(t, "u1", "student", http.MethodPost, "/exams/42/attempts", `{"device_fingerprint":"laptop"}`, &again)
	if again.ID != a.ID {
		t.Fatalf("second start made a new attempt")
	}

	for i, qid := range a.QuestionIDs {
		opt := qid*10 + 1
		if i == 0 {
			opt = qid*10 + 2
		}
		body := `{"selected_answer":{"kind":"scalar","option_id":` + itoa(opt) + `},"time_spent_seconds":12}`
		if code := api.do(t, "u1", "student", http.MethodPut, "/attempts/"+a.ID+"/answers/"+itoa(qid), body, nil); code != http.StatusOK {
			t.Fatalf("answer %d: %d", qid, code)
		}
	}
	bad := `{"selected_answer":{"kind":"multi","option_ids":[1]}}`
	if code := api.do(t, "u1", "student", http.MethodPut, "/attempts/"+a.ID+"/answers/"+itoa(a.QuestionIDs[0]), bad, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("wrong shape: %d", code)
	}
	if code := api.do(t, "u2", "student", http.MethodGet, "/attempts/"+a.ID, "", nil); code != http.StatusForbidden {
		t.Fatalf("foreign attempt: %d", code)
	}

	var done attempt.Attempt
	if code := api.do(t, "u1", "student", http.MethodPost, "/attempts/"+a.ID+"/submit", "", &done); code != http.StatusOK {
		t.Fatalf("submit: %d", code)
	}
	if done.Status != attempt.StatusSubmitted || done.Score == nil || *done.Score != 75 {
		t.Fatalf("result %+v", done)
	}
	var repeat attempt.Attempt
	if code := api.do(t, "u1", "student", http.MethodPost, "/attempts/"+a.ID+"/submit", "", &repeat); code != http.StatusOK || *repeat.Score != 75 {
		t.Fatalf("repeat submit: %d", code)
	}
	if code := api.do(t, "u1", "student", http.MethodPut, "/attempts/"+a.ID+"/answers/"+itoa(a.QuestionIDs[1]), `{"selected_answer":null}`, nil); code != http.StatusConflict {
		t.Fatalf("answer after submit: %d", code)
	}

	var hist []attempt.Attempt
	api.do(t, "u1", "student", http.MethodGet, "/attempts?exam_id=42", "", &hist)
	if len(hist) != 1 || hist[0].ID != a.ID {
		t.Fatalf("history %+v", hist)
	}

	var evs []syncx.Event
	api.do(t, "root", "admin", http.MethodGet, "/admin/events", "", &evs)
	if len(evs) != 2 {
		t.Fatalf("lifecycle events %+v", evs)
	}
}

func TestDeniedStartReportsReason(t *testing.T) {
	api := newTestAPI(t)

	var body errorBody
	code := api.do(t, "u9", "student", http.MethodPost, "/exams/42/attempts", `{"device_fingerprint":"x"}`, &body)
	if code != http.StatusForbidden || body.Reason != string(license.ReasonNotPurchased) {
		t.Fatalf("no purchase: %d %+v", code, body)
	}

	e, _ := api.guard.Issue(context.Background(), "u1", 42, time.Now().Add(time.Hour))
	api.do(t, "u1", "student", http.MethodPost, "/exams/42/attempts", `{"device_fingerprint":"laptop"}`, nil)
	code = api.do(t, "u1", "student", http.MethodPost, "/exams/42/attempts", `{"device_fingerprint":"phone"}`, &body)
	if code != http.StatusForbidden || body.Reason != string(license.ReasonMultiDevice) || body.EntitlementID != e.ID {
		t.Fatalf("second device: %d %+v", code, body)
	}

	var info license.LockInfo
	if code := api.do(t, "helpdesk", "support", http.MethodGet, "/admin/entitlements/"+e.ID+"/lock-status", "", &info); code != http.StatusOK || !info.Locked || info.HoursRemaining != 48 {
		t.Fatalf("lock status: %d %+v", code, info)
	}
	if code := api.do(t, "u1", "student", http.MethodPost, "/admin/entitlements/"+e.ID+"/unlock", `{}`, nil); code != http.StatusForbidden {
		t.Fatalf("student unlock: %d", code)
	}
	var unlocked license.Entitlement
	if code := api.do(t, "helpdesk", "support", http.MethodPost, "/admin/entitlements/"+e.ID+"/unlock", `{"reason":"new phone"}`, &unlocked); code != http.StatusOK || unlocked.Status != license.StatusActive {
		t.Fatalf("unlock: %d %+v", code, unlocked)
	}

	var evs []license.AccessEvent
	api.do(t, "helpdesk", "support", http.MethodGet, "/admin/entitlements/"+e.ID+"/events", "", &evs)
	last := evs[len(evs)-1]
	if last.Action != license.ActionUnlocked || last.AdminIdentity == nil || *last.AdminIdentity != "helpdesk" {
		t.Fatalf("unlock not audited: %+v", last)
	}
}

func TestPaywallAndExamView(t *testing.T) {
	api := newTestAPI(t)

	var pw map[string]any
	api.do(t, "u1", "student", http.MethodGet, "/exams/42/paywall?position=10", "", &pw)
	if pw["visible"] != true || pw["entitlement_active"] != false {
		t.Fatalf("position 10: %v", pw)
	}
	api.do(t, "u1", "student", http.MethodGet, "/exams/42/paywall?position=11", "", &pw)
	if pw["visible"] != false {
		t.Fatalf("position 11: %v", pw)
	}

	var view struct {
		Questions []questionView `json:"questions"`
	}
	api.do(t, "u1", "student", http.MethodGet, "/exams/42", "", &view)
	if len(view.Questions) != 12 || view.Questions[9].Locked || !view.Questions[10].Locked || len(view.Questions[10].Options) != 0 {
		t.Fatalf("free view %+v", view.Questions)
	}

	_, _ = api.guard.Issue(context.Background(), "u1", 42, time.Now().Add(time.Hour))
	api.do(t, "u1", "student", http.MethodGet, "/exams/42/paywall?position=9999", "", &pw)
	if pw["visible"] != true {
		t.Fatalf("entitled viewer: %v", pw)
	}
	api.do(t, "u1", "student", http.MethodGet, "/exams/42", "", &view)
	if view.Questions[11].Locked || len(view.Questions[11].Options) != 2 {
		t.Fatalf("entitled view %+v", view.Questions[11])
	}
}

func TestCreateEntitlementValidation(t *testing.T) {
	api := newTestAPI(t)
	var body errorBody
	code := api.do(t, "root", "admin", http.MethodPost, "/admin/entitlements", `{"exam_id":42}`, &body)
	if code != http.StatusBadRequest || body.Fields["UserID"] != "required" {
		t.Fatalf("missing user: %d %+v", code, body)
	}
	if code := api.do(t, "u1", "student", http.MethodPost, "/admin/entitlements", `{}`, nil); code != http.StatusForbidden {
		t.Fatalf("student create: %d", code)
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
