package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfellner/zeiterfassung/internal/model"
	"github.com/jfellner/zeiterfassung/internal/queue"
	"github.com/jfellner/zeiterfassung/internal/repository"
	"github.com/jfellner/zeiterfassung/internal/workflow"
)

var svcNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeEntryStore struct {
	entries map[uint64]model.TimeEntry
	nextID  uint64

	updated       map[uint64]map[string]any
	hardDeleted   []uint64
	rejectCleared []uint64
	manyIDs       []uint64
	manyFields    map[string]any
}

func newFakeEntryStore(entries ...model.TimeEntry) *fakeEntryStore {
	s := &fakeEntryStore{entries: map[uint64]model.TimeEntry{}, nextID: 100, updated: map[uint64]map[string]any{}}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return s
}

func (s *fakeEntryStore) Get(_ context.Context, id uint64) (*model.TimeEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (s *fakeEntryStore) GetMany(_ context.Context, ids []uint64) ([]model.TimeEntry, error) {
	out := make([]model.TimeEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeEntryStore) ListByOwner(_ context.Context, ownerID uint64, _, _ string, includeDeleted bool) ([]model.TimeEntry, error) {
	var out []model.TimeEntry
	for _, e := range s.entries {
		if e.UserID == ownerID && (includeDeleted || !e.IsDeleted) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeEntryStore) Insert(_ context.Context, e *model.TimeEntry) error {
	s.nextID++
	e.ID = s.nextID
	s.entries[e.ID] = *e
	return nil
}

func (s *fakeEntryStore) UpdateFields(_ context.Context, id uint64, fields map[string]any) error {
	if _, ok := s.entries[id]; !ok {
		return repository.ErrNotFound
	}
	s.updated[id] = fields
	return nil
}

func (s *fakeEntryStore) UpdateFieldsMany(_ context.Context, ids []uint64, fields map[string]any) error {
	s.manyIDs = ids
	s.manyFields = fields
	return nil
}

func (s *fakeEntryStore) HardDelete(_ context.Context, id uint64) error {
	if _, ok := s.entries[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.entries, id)
	s.hardDeleted = append(s.hardDeleted, id)
	return nil
}

func (s *fakeEntryStore) RejectAndClearDelegation(_ context.Context, id uint64, fields map[string]any) error {
	if _, ok := s.entries[id]; !ok {
		return repository.ErrNotFound
	}
	s.updated[id] = fields
	s.rejectCleared = append(s.rejectCleared, id)
	return nil
}

type fakeHistoryStore struct {
	rows      []model.EntryChangeHistory
	appendErr error
}

func (s *fakeHistoryStore) Append(_ context.Context, h *model.EntryChangeHistory) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.rows = append(s.rows, *h)
	return nil
}

func (s *fakeHistoryStore) ListByEntry(_ context.Context, entryID uint64) ([]model.EntryChangeHistory, error) {
	var out []model.EntryChangeHistory
	for _, r := range s.rows {
		if r.EntryID == entryID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeSettings struct {
	settings map[uint64]workflow.OwnerSettings
}

func (s *fakeSettings) GetSettings(_ context.Context, userID uint64) (workflow.OwnerSettings, error) {
	o, ok := s.settings[userID]
	if !ok {
		return workflow.OwnerSettings{}, repository.ErrNotFound
	}
	return o, nil
}

type fakeLocks struct {
	locked map[string]bool
}

func (s *fakeLocks) IsLocked(_ context.Context, userID uint64, day time.Time) (bool, error) {
	return s.locked[day.Format("2006-01-02")], nil
}

type fakeNotifier struct {
	events []queue.EntryChangedEvent
	err    error
}

func (n *fakeNotifier) EntryChanged(_ context.Context, ev queue.EntryChangedEvent) error {
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

type fixture struct {
	svc      *EntryService
	store    *fakeEntryStore
	history  *fakeHistoryStore
	notifier *fakeNotifier
}

func newFixture(settings map[uint64]workflow.OwnerSettings, entries ...model.TimeEntry) *fixture {
	store := newFakeEntryStore(entries...)
	history := &fakeHistoryStore{}
	notifier := &fakeNotifier{}
	svc := NewEntryService(store, history, &fakeSettings{settings: settings}, &fakeLocks{locked: map[string]bool{}}, notifier)
	svc.now = func() time.Time { return svcNow }
	return &fixture{svc: svc, store: store, history: history, notifier: notifier}
}

var (
	svcOwner     = workflow.Actor{ID: 1, Role: model.RoleInstaller}
	svcOffice    = workflow.Actor{ID: 2, Role: model.RoleOffice}
	svcReviewer  = workflow.Actor{ID: 5, Role: model.RoleInstaller}
	svcAdmin     = workflow.Actor{ID: 3, Role: model.RoleAdmin}
	trustingSet  = map[uint64]workflow.OwnerSettings{1: {RequireConfirmation: false, Role: model.RoleInstaller}}
	reviewingSet = map[uint64]workflow.OwnerSettings{1: {RequireConfirmation: true, Role: model.RoleInstaller}}
)

func svcDraft() model.TimeEntry {
	return model.TimeEntry{
		Date:  time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
		Type:  model.TypeCompany,
		Hours: 8,
	}
}

func svcExisting(id uint64) model.TimeEntry {
	e := svcDraft()
	e.ID = id
	e.UserID = svcOwner.ID
	e.Type = model.TypeWork
	return e
}

func TestServiceCreateAutoConfirmed(t *testing.T) {
	f := newFixture(trustingSet)

	e, err := f.svc.Create(context.Background(), svcDraft(), 0, svcOwner)
	require.NoError(t, err)
	assert.Equal(t, svcOwner.ID, e.UserID)
	assert.True(t, e.Submitted)
	require.NotNil(t, e.ConfirmedAt)
	assert.Equal(t, svcNow, *e.ConfirmedAt)

	require.Len(t, f.notifier.events, 1)
	ev := f.notifier.events[0]
	assert.Equal(t, queue.ActionCreated, ev.Action)
	assert.Equal(t, e.ID, ev.EntityID)
	assert.Equal(t, svcOwner.ID, ev.OwnerID)
	assert.NotEmpty(t, ev.EventID)
}

func TestServiceCreateForOtherUser(t *testing.T) {
	f := newFixture(trustingSet)

	_, err := f.svc.Create(context.Background(), svcDraft(), 1, workflow.Actor{ID: 9, Role: model.RoleInstaller})
	var pErr *workflow.PermissionError
	require.ErrorAs(t, err, &pErr)
	assert.Empty(t, f.store.entries)

	e, err := f.svc.Create(context.Background(), svcDraft(), 1, svcOffice)
	require.NoError(t, err)
	assert.Equal(t, svcOwner.ID, e.UserID)
}

func TestServiceCreateUnknownOwner(t *testing.T) {
	f := newFixture(trustingSet)

	_, err := f.svc.Create(context.Background(), svcDraft(), 77, svcOffice)
	var nfErr *workflow.NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "user", nfErr.Entity)
}

func TestServiceCreateLockedDay(t *testing.T) {
	f := newFixture(trustingSet)
	f.svc.locks = &fakeLocks{locked: map[string]bool{"2025-03-07": true}}

	_, err := f.svc.Create(context.Background(), svcDraft(), 0, svcOwner)
	var lErr *workflow.LockedError
	require.ErrorAs(t, err, &lErr)
}

func TestServiceUpdateAppendsHistory(t *testing.T) {
	f := newFixture(reviewingSet, svcExisting(10))

	hours := 6.0
	e, err := f.svc.Update(context.Background(), 10, workflow.EntryPatch{Hours: &hours}, "site closed early", svcOffice)
	require.NoError(t, err)
	require.NotNil(t, e)

	fields := f.store.updated[10]
	require.NotNil(t, fields)
	assert.Equal(t, 6.0, fields["hours"])
	assert.Equal(t, false, fields["change_confirmed_by_user"])
	assert.Equal(t, "site closed early", fields["change_reason"])

	require.Len(t, f.history.rows, 1)
	row := f.history.rows[0]
	assert.Equal(t, uint64(10), row.EntryID)
	assert.Equal(t, svcOffice.ID, row.ChangedBy)
	assert.Equal(t, model.HistoryStatusPending, row.Status)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, queue.ActionUpdated, f.notifier.events[0].Action)
}

func TestServiceUpdateNotFound(t *testing.T) {
	f := newFixture(reviewingSet)

	hours := 6.0
	_, err := f.svc.Update(context.Background(), 404, workflow.EntryPatch{Hours: &hours}, "", svcOwner)
	var nfErr *workflow.NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "entry", nfErr.Entity)
	assert.Equal(t, uint64(404), nfErr.ID)
}

func TestServiceUpdateHistoryFailureIsFatal(t *testing.T) {
	f := newFixture(reviewingSet, svcExisting(10))
	f.history.appendErr = errors.New("disk full")

	hours := 6.0
	_, err := f.svc.Update(context.Background(), 10, workflow.EntryPatch{Hours: &hours}, "", svcOwner)
	require.Error(t, err)
	assert.Empty(t, f.notifier.events)
}

func TestServiceConfirmAuthorization(t *testing.T) {
	delegated := svcExisting(10)
	rid := svcReviewer.ID
	delegated.ResponsibleUserID = &rid
	f := newFixture(reviewingSet, delegated)

	// The delegated peer may confirm.
	e, err := f.svc.Confirm(context.Background(), 10, svcReviewer)
	require.NoError(t, err)
	require.NotNil(t, e)
	fields := f.store.updated[10]
	assert.Equal(t, svcReviewer.ID, fields["confirmed_by"])

	// An unrelated installer may not.
	_, err = f.svc.Confirm(context.Background(), 10, workflow.Actor{ID: 9, Role: model.RoleInstaller})
	var pErr *workflow.PermissionError
	require.ErrorAs(t, err, &pErr)
}

func TestServiceRejectClearsDelegation(t *testing.T) {
	delegated := svcExisting(10)
	rid := svcReviewer.ID
	delegated.ResponsibleUserID = &rid
	f := newFixture(reviewingSet, delegated)

	_, err := f.svc.Reject(context.Background(), 10, svcReviewer, "hours do not match the site log")
	require.NoError(t, err)
	assert.Equal(t, []uint64{10}, f.store.rejectCleared)
	assert.Equal(t, "hours do not match the site log", f.store.updated[10]["rejection_reason"])

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, queue.ActionRejected, f.notifier.events[0].Action)
}

func TestServiceRejectWithoutDelegation(t *testing.T) {
	f := newFixture(reviewingSet, svcExisting(10))

	_, err := f.svc.Reject(context.Background(), 10, svcOffice, "wrong day")
	require.NoError(t, err)
	assert.Empty(t, f.store.rejectCleared)
	assert.Contains(t, f.store.updated, uint64(10))
}

func TestServiceDeleteDraftIsHard(t *testing.T) {
	f := newFixture(trustingSet, svcExisting(10))

	hard, err := f.svc.Delete(context.Background(), 10, svcOwner, "")
	require.NoError(t, err)
	assert.True(t, hard)
	assert.Equal(t, []uint64{10}, f.store.hardDeleted)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, queue.ActionDeleted, f.notifier.events[0].Action)
}

func TestServiceDeleteSubmittedIsSoft(t *testing.T) {
	submitted := svcExisting(10)
	submitted.Submitted = true
	f := newFixture(trustingSet, submitted)

	hard, err := f.svc.Delete(context.Background(), 10, svcOffice, "duplicate booking")
	require.NoError(t, err)
	assert.False(t, hard)
	assert.Empty(t, f.store.hardDeleted)
	fields := f.store.updated[10]
	assert.Equal(t, true, fields["is_deleted"])
	assert.Equal(t, false, fields["deletion_confirmed_by_user"])
}

func TestServiceBulkSubmit(t *testing.T) {
	late := svcExisting(11)
	reason := "vergessen"
	late.LateReason = &reason

	foreign := svcExisting(12)
	foreign.UserID = 99

	f := newFixture(trustingSet, svcExisting(10), late, foreign)

	ids, err := f.svc.BulkSubmit(context.Background(), []uint64{10, 11, 12, 999}, svcOwner)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10}, ids)
	assert.Equal(t, []uint64{10}, f.store.manyIDs)
	assert.Equal(t, true, f.store.manyFields["submitted"])
	assert.Equal(t, svcNow, f.store.manyFields["confirmed_at"])
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, queue.ActionSubmitted, f.notifier.events[0].Action)
}

func TestServiceBulkSubmitNothingEligible(t *testing.T) {
	f := newFixture(trustingSet)

	ids, err := f.svc.BulkSubmit(context.Background(), []uint64{999}, svcOwner)
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
	assert.Nil(t, f.store.manyIDs)
}

func TestServiceGetVisibility(t *testing.T) {
	f := newFixture(trustingSet, svcExisting(10))

	_, err := f.svc.Get(context.Background(), 10, svcOwner)
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), 10, svcAdmin)
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), 10, workflow.Actor{ID: 9, Role: model.RoleAzubi})
	var pErr *workflow.PermissionError
	require.ErrorAs(t, err, &pErr)
}

func TestServiceListForeignOwner(t *testing.T) {
	f := newFixture(trustingSet, svcExisting(10))

	entries, err := f.svc.List(context.Background(), 1, "", "", false, svcOffice)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = f.svc.List(context.Background(), 1, "", "", false, workflow.Actor{ID: 9, Role: model.RoleInstaller})
	var pErr *workflow.PermissionError
	require.ErrorAs(t, err, &pErr)
}

func TestServiceHistoryVisibility(t *testing.T) {
	f := newFixture(reviewingSet, svcExisting(10))
	f.history.rows = []model.EntryChangeHistory{{ID: 1, EntryID: 10, ChangedBy: svcOffice.ID}}

	rows, err := f.svc.History(context.Background(), 10, svcOwner)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = f.svc.History(context.Background(), 10, workflow.Actor{ID: 9, Role: model.RoleInstaller})
	var pErr *workflow.PermissionError
	require.ErrorAs(t, err, &pErr)
}

func TestServiceNotifierFailureIsNotFatal(t *testing.T) {
	f := newFixture(trustingSet)
	f.notifier.err = errors.New("broker down")

	e, err := f.svc.Create(context.Background(), svcDraft(), 0, svcOwner)
	require.NoError(t, err)
	require.NotNil(t, e)
}
