package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/salesboard/internal/apperr"
	"github.com/starford/salesboard/internal/models"
	"github.com/starford/salesboard/internal/stages"
	"github.com/starford/salesboard/internal/store"
	"github.com/starford/salesboard/internal/testutil"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func newDisconnected(t *testing.T) *Manager {
	t.Helper()
	reg, err := stages.New()
	if err != nil {
		t.Fatal(err)
	}
	return New(nil, reg, WithClock(fixedClock()))
}

func record(client string) models.Opportunity {
	return models.Opportunity{
		Client:      client,
		Date:        "2026-03-01",
		Assignee:    "김영업",
		Summary:     "first meeting",
		ActionItems: []string{"follow up", "   "},
	}
}

var actor = &models.UserRef{UID: "u1", Name: "Kim", Email: "kim@example.com"}

func TestDisconnectedMutationsApplySynchronously(t *testing.T) {
	m := newDisconnected(t)
	ctx := context.Background()
	if m.Connected() {
		t.Fatal("manager without remote must be disconnected")
	}

	id1, err := m.Add(ctx, record("Acme"), actor)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	id2, err := m.Add(ctx, record("Globex"), nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("clock ids must be unique under a frozen clock: %s", id1)
	}

	list := m.List()
	if len(list) != 2 || list[0].ID != id1 || list[1].ID != id2 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].Stage != models.StageLead {
		t.Errorf("default stage = %q", list[0].Stage)
	}
	if len(list[0].ActionItems) != 1 {
		t.Errorf("blank action items kept: %q", list[0].ActionItems)
	}
	if list[0].CreatedBy == nil || list[0].CreatedBy.UID != "u1" {
		t.Errorf("createdBy = %+v", list[0].CreatedBy)
	}

	if err := m.ChangeStage(ctx, id1, models.StageContract, nil); err != nil {
		t.Fatalf("ChangeStage: %v", err)
	}
	got, _ := m.Get(id1)
	if got.Stage != models.StageContract {
		t.Errorf("stage = %q", got.Stage)
	}

	entry, err := m.AddMeeting(ctx, id1, models.MeetingEntry{Date: "2026-03-08", Summary: "demo", Attendees: []string{"Lee", ""}}, actor)
	if err != nil {
		t.Fatalf("AddMeeting: %v", err)
	}
	if entry.ID == "" || entry.Type != models.MeetingFollowUp || entry.Outcome != models.OutcomeNeutral {
		t.Errorf("entry defaults = %+v", entry)
	}
	got, _ = m.Get(id1)
	if got.MeetingCount() != 2 || len(got.MeetingHistory[0].Attendees) != 1 {
		t.Errorf("meeting history = %+v", got.MeetingHistory)
	}

	if err := m.Delete(ctx, id2); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n := len(m.List()); n != 1 {
		t.Errorf("expected 1 record after delete, got %d", n)
	}
}

func TestDisconnectedEditKeepsCreatorAndHistory(t *testing.T) {
	m := newDisconnected(t)
	ctx := context.Background()

	o := record("Acme")
	v := int64(70_000_000)
	o.EstimatedValue = &v
	id, _ := m.Add(ctx, o, actor)
	if _, err := m.AddMeeting(ctx, id, models.MeetingEntry{Date: "2026-03-02", Summary: "call"}, nil); err != nil {
		t.Fatal(err)
	}

	edit := record("Acme Corp")
	edit.ID = id
	edit.Stage = models.StageProposal
	edit.CreatedBy = &models.UserRef{UID: "intruder"}
	editor := &models.UserRef{UID: "u2"}
	if err := m.Edit(ctx, edit, editor); err != nil {
		t.Fatalf("Edit: %v", err)
	}

	got, _ := m.Get(id)
	if got.Client != "Acme Corp" || got.Stage != models.StageProposal {
		t.Errorf("edit not applied: %+v", got)
	}
	if got.CreatedBy.UID != "u1" {
		t.Errorf("createdBy overwritten: %+v", got.CreatedBy)
	}
	if got.LastModifiedBy.UID != "u2" {
		t.Errorf("lastModifiedBy = %+v", got.LastModifiedBy)
	}
	if len(got.MeetingHistory) != 1 {
		t.Errorf("meeting history lost")
	}
	if got.Value() != v {
		t.Errorf("absent estimatedValue overwrote stored value: %d", got.Value())
	}
}

func TestValidationRejectsBeforeMutation(t *testing.T) {
	m := newDisconnected(t)
	ctx := context.Background()

	bad := record("")
	if _, err := m.Add(ctx, bad, nil); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("missing client: want ErrInvalidInput, got %v", err)
	}
	unknown := record("Acme")
	unknown.Stage = "custom_1"
	_, err := m.Add(ctx, unknown, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("unknown stage: want *ValidationError, got %v", err)
	}
	badDate := record("Acme")
	badDate.Date = "03/01/2026"
	if _, err := m.Add(ctx, badDate, nil); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("bad date: want ErrInvalidInput, got %v", err)
	}

	id, _ := m.Add(ctx, record("Acme"), nil)
	if err := m.ChangeStage(ctx, id, "nowhere", nil); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("ChangeStage unknown stage: %v", err)
	}
	if _, err := m.AddMeeting(ctx, id, models.MeetingEntry{Date: "2026-03-02", Summary: "x", Type: "lunch"}, nil); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("AddMeeting bad type: %v", err)
	}
	if len(m.List()) != 1 {
		t.Errorf("rejected mutations changed the collection")
	}
	if m.Err() != "" {
		t.Errorf("validation failures must not fill the error slot: %q", m.Err())
	}
}

func TestErrorSlotHoldsMessageUntilCleared(t *testing.T) {
	m := newDisconnected(t)
	ctx := context.Background()

	err := m.Delete(ctx, "missing")
	var uerr *UserError
	if !errors.As(err, &uerr) {
		t.Fatalf("want *UserError, got %v", err)
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("UserError should unwrap to ErrNotFound")
	}
	if m.Err() != uerr.Message || m.Err() == "" {
		t.Errorf("error slot = %q, message = %q", m.Err(), uerr.Message)
	}

	if _, err := m.Add(ctx, record("Acme"), nil); err != nil {
		t.Fatal(err)
	}
	if m.Err() == "" {
		t.Error("success must not clear the error slot")
	}
	m.ClearErr()
	if m.Err() != "" {
		t.Errorf("slot not cleared: %q", m.Err())
	}
}

func TestWatchReceivesSnapshots(t *testing.T) {
	m := newDisconnected(t)
	var got [][]models.Opportunity
	stop := m.Watch(func(all []models.Opportunity) { got = append(got, all) })

	if _, err := m.Add(context.Background(), record("Acme"), nil); err != nil {
		t.Fatal(err)
	}
	stop()
	if _, err := m.Add(context.Background(), record("Globex"), nil); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || len(got[0]) != 1 {
		t.Errorf("watch deliveries = %d", len(got))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestConnectedModeReliesOnSubscription(t *testing.T) {
	s := testutil.TestStore(t)
	m := New(s, testutil.TestStages(t))
	if !m.Connected() {
		t.Fatal("manager over an available store must be connected")
	}
	m.Start()
	defer m.Close()
	ctx := context.Background()

	id, err := m.Add(ctx, record("Acme"), actor)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	waitFor(t, func() bool { return len(m.List()) == 1 })

	if err := m.ChangeStage(ctx, id, models.StageCompleted, actor); err != nil {
		t.Fatalf("ChangeStage: %v", err)
	}
	waitFor(t, func() bool {
		o, err := m.Get(id)
		return err == nil && o.Stage == models.StageCompleted
	})

	if _, err := m.AddMeeting(ctx, id, models.MeetingEntry{Date: "2026-03-09", Summary: "closing"}, actor); err != nil {
		t.Fatalf("AddMeeting: %v", err)
	}
	waitFor(t, func() bool {
		o, _ := m.Get(id)
		return len(o.MeetingHistory) == 1
	})

	if err := m.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	waitFor(t, func() bool { return len(m.List()) == 0 })
}

type failingRemote struct {
	*store.Store
}

func (failingRemote) Create(context.Context, models.Opportunity, *models.UserRef) (string, error) {
	return "", errors.New("backend unreachable")
}

func TestConnectedFailureLeavesCollectionUnchanged(t *testing.T) {
	s := testutil.TestStore(t)
	m := New(failingRemote{s}, testutil.TestStages(t))
	m.Start()
	defer m.Close()

	_, err := m.Add(context.Background(), record("Acme"), nil)
	var uerr *UserError
	if !errors.As(err, &uerr) || uerr.Op != OpAdd {
		t.Fatalf("want add UserError, got %v", err)
	}
	if m.Err() != failureMessages[OpAdd] {
		t.Errorf("error slot = %q", m.Err())
	}
	if len(m.List()) != 0 {
		t.Errorf("collection changed on failure")
	}
}

func TestUnavailableRemoteMeansDisconnected(t *testing.T) {
	var s *store.Store
	m := New(s, testutil.TestStages(t))
	if m.Connected() {
		t.Error("nil store must yield disconnected mode")
	}
}

func TestConcurrentAddsDeliverNewestLast(t *testing.T) {
	m := newDisconnected(t)

	var (
		mu    sync.Mutex
		calls int
		last  []models.Opportunity
	)
	firstStarted := make(chan struct{})
	m.Watch(func(all []models.Opportunity) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(firstStarted)
			time.Sleep(100 * time.Millisecond)
		}
		mu.Lock()
		last = all
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := m.Add(context.Background(), record("Acme"), nil); err != nil {
			t.Error(err)
		}
	}()
	<-firstStarted
	go func() {
		defer wg.Done()
		if _, err := m.Add(context.Background(), record("Globex"), nil); err != nil {
			t.Error(err)
		}
	}()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(m.List()) != 2 {
		t.Fatalf("list = %d records", len(m.List()))
	}
	if len(last) != 2 {
		t.Errorf("last delivered snapshot has %d records, want 2", len(last))
	}
}

func TestValidateDoesNotStore(t *testing.T) {
	m := newDisconnected(t)

	err := m.Validate(models.Opportunity{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("empty record: err = %v, want ValidationError", err)
	}
	if err := m.Validate(record("Acme")); err != nil {
		t.Fatalf("valid record: %v", err)
	}
	bad := record("Acme")
	bad.Stage = "nope"
	if err := m.Validate(bad); err == nil {
		t.Error("unknown stage should fail validation")
	}
	if len(m.List()) != 0 {
		t.Errorf("Validate must not store, list = %d", len(m.List()))
	}
}

func TestListedRecordEncodesEmptyLists(t *testing.T) {
	m := newDisconnected(t)
	o := record("Acme")
	o.ActionItems = nil
	if _, err := m.Add(context.Background(), o, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddMeeting(context.Background(), m.List()[0].ID, models.MeetingEntry{
		Date:    "2026-03-05",
		Summary: "follow-up call",
	}, nil); err != nil {
		t.Fatal(err)
	}

	body, err := json.Marshal(m.List())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(body), "null") {
		t.Errorf("listed record encodes null lists: %s", body)
	}
	if !strings.Contains(string(body), `"actionItems":[]`) {
		t.Errorf("missing empty action items: %s", body)
	}
}
