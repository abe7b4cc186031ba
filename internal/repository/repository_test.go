package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/labsync/internal/localstore"
	"github.com/hyperengineering/labsync/internal/queue"
	"github.com/hyperengineering/labsync/internal/remote"
	"github.com/hyperengineering/labsync/internal/types"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	local   *localstore.MemoryStore
	queue   *queue.Queue
	remote  *remote.MemoryStore
	online  *atomic.Bool
	reg     *Registry
	staff   *StaffDirectory
	catalog *TestCatalog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, localstore.NewMemoryStore())
}

func newTestEnvWithStore(t *testing.T, local localstore.Store) *testEnv {
	t.Helper()
	q, err := queue.New(local, 0)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	env := &testEnv{
		queue:  q,
		remote: remote.NewMemoryStore(),
		online: &atomic.Bool{},
	}
	if m, ok := local.(*localstore.MemoryStore); ok {
		env.local = m
	}
	env.reg = NewRegistry(local, q, Options{
		Remote:        env.remote,
		Online:        env.online.Load,
		RemoteTimeout: 200 * time.Millisecond,
	})
	env.staff = NewStaffDirectory(env.reg, bcrypt.MinCost)
	env.catalog = NewTestCatalog(env.reg)
	return env
}

func rajesh() types.Staff {
	return types.Staff{
		Name:        "Rajesh Kumar",
		Phone:       "9876543210",
		Email:       "rajesh@lab.example",
		Designation: "Lab Technician",
		Salary:      25000,
		Role:        types.RoleStaff,
	}
}

func priya() types.Staff {
	return types.Staff{
		Name:  "Priya Sharma",
		Phone: "9876543211",
		Role:  types.RolePhlebotomist,
	}
}

func cbc() types.LabTest {
	return types.LabTest{TestCode: "CBC", TestName: "Complete Blood Count", Price: 300, IsActive: true}
}

// --- Create ---

func TestStaffCreate_StampsAndQueues(t *testing.T) {
	// Given an empty directory
	env := newTestEnv(t)

	// When a staff member is created
	member, login, err := env.staff.Create(rajesh())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Then the record is stamped pending with a prefixed id
	if member.SyncStatus != types.SyncPending {
		t.Errorf("syncStatus = %q, want pending", member.SyncStatus)
	}
	if len(member.ID) != len(PrefixStaff)+1+26 || member.ID[:4] != "stf_" {
		t.Errorf("id = %q, want stf_<ulid>", member.ID)
	}
	if member.CreatedAt.IsZero() || !member.CreatedAt.Equal(member.UpdatedAt) {
		t.Errorf("createdAt = %v, updatedAt = %v, want equal non-zero", member.CreatedAt, member.UpdatedAt)
	}
	if member.Status != types.StatusActive || member.Photo != types.DefaultPhoto {
		t.Errorf("defaults not applied: status=%q photo=%q", member.Status, member.Photo)
	}

	// And the member and its login are queued for creation, in order
	items := env.queue.Snapshot()
	if len(items) != 2 {
		t.Fatalf("queue length = %d, want 2", len(items))
	}
	if items[0].Table != types.TableStaff || items[0].Operation != queue.OpCreate || items[0].EntityID != member.ID {
		t.Errorf("items[0] = %+v, want staff create of %s", items[0], member.ID)
	}
	if items[1].Table != types.TableUsers || items[1].Operation != queue.OpCreate {
		t.Errorf("items[1] = %+v, want users create", items[1])
	}

	// And the login follows the naming rule
	if login.Username != "rajeshkumar3210" {
		t.Errorf("username = %q, want rajeshkumar3210", login.Username)
	}
	if len(login.Password) != PasswordLength {
		t.Errorf("password length = %d, want %d", len(login.Password), PasswordLength)
	}
}

func TestStaffCreate_PhlebotomistGoesToOwnTable(t *testing.T) {
	env := newTestEnv(t)

	member, _, err := env.staff.Create(priya())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if member.ID[:4] != "phl_" {
		t.Errorf("id = %q, want phl_ prefix", member.ID)
	}
	phleb, err := env.staff.List(context.Background(), types.RolePhlebotomist)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(phleb) != 1 {
		t.Errorf("phlebotomists = %d, want 1", len(phleb))
	}
	staff, _ := env.staff.List(context.Background(), types.RoleStaff)
	if len(staff) != 0 {
		t.Errorf("staff = %d, want 0", len(staff))
	}
}

func TestStaffCreate_DuplicatePhoneAcrossRoles(t *testing.T) {
	// Given a staff member
	env := newTestEnv(t)
	if _, _, err := env.staff.Create(rajesh()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := env.queue.Len()

	// When a phlebotomist with the same phone is created
	dup := priya()
	dup.Phone = "9876543210"
	_, _, err := env.staff.Create(dup)

	// Then it is rejected naming the phone field
	var dke *DuplicateKeyError
	if !errors.As(err, &dke) {
		t.Fatalf("err = %v, want *DuplicateKeyError", err)
	}
	if dke.Field != "phone" {
		t.Errorf("field = %q, want phone", dke.Field)
	}
	if !errors.Is(err, ErrDuplicateKey) {
		t.Error("error does not wrap ErrDuplicateKey")
	}

	// And nothing changed
	if env.queue.Len() != before {
		t.Errorf("queue length = %d, want %d", env.queue.Len(), before)
	}
	phleb, _ := env.staff.List(context.Background(), types.RolePhlebotomist)
	if len(phleb) != 0 {
		t.Errorf("phlebotomists = %d, want 0", len(phleb))
	}
}

func TestStaffCreate_DuplicateEmailIgnoresCase(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.staff.Create(rajesh()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	other := priya()
	other.Email = "RAJESH@lab.example"
	_, _, err := env.staff.Create(other)

	var dke *DuplicateKeyError
	if !errors.As(err, &dke) || dke.Field != "email" {
		t.Errorf("err = %v, want duplicate email", err)
	}
}

func TestStaffCreate_EmptyEmailsDoNotConflict(t *testing.T) {
	env := newTestEnv(t)
	a := rajesh()
	a.Email = ""
	b := priya()

	if _, _, err := env.staff.Create(a); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if _, _, err := env.staff.Create(b); err != nil {
		t.Errorf("Create b: %v, want success with both emails empty", err)
	}
}

func TestStaffCreate_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.staff.Create(types.Staff{Name: " ", Phone: "12"})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("error does not wrap ErrValidation")
	}
	if len(verr.Fields) < 2 {
		t.Errorf("fields = %+v, want name and phone errors", verr.Fields)
	}
	if env.queue.Len() != 0 {
		t.Errorf("queue length = %d, want 0", env.queue.Len())
	}
}

func TestStaffCreate_UsernameCollisionGetsSuffix(t *testing.T) {
	// Given two members with the same name and the same last four digits
	env := newTestEnv(t)
	a := rajesh()
	b := rajesh()
	b.Phone = "9111113210"
	b.Email = ""

	_, loginA, err := env.staff.Create(a)
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	_, loginB, err := env.staff.Create(b)
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}

	// Then the second username gets a numeric suffix
	if loginA.Username != "rajeshkumar3210" || loginB.Username != "rajeshkumar32101" {
		t.Errorf("usernames = %q, %q, want rajeshkumar3210, rajeshkumar32101", loginA.Username, loginB.Username)
	}
}

func TestTestCatalog_DuplicateCodeIgnoresCase(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.catalog.Create(cbc()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dup := cbc()
	dup.TestCode = "cbc"
	_, err := env.catalog.Create(dup)

	var dke *DuplicateKeyError
	if !errors.As(err, &dke) || dke.Field != "testCode" {
		t.Errorf("err = %v, want duplicate testCode", err)
	}
	cached, _ := env.catalog.Cached()
	if len(cached) != 1 || cached[0].TestCode != "CBC" {
		t.Errorf("cached = %+v, want only the original CBC", cached)
	}
	if env.queue.Len() != 1 {
		t.Errorf("queue length = %d, want 1", env.queue.Len())
	}
}

func TestCreate_EnqueueFailureRollsBack(t *testing.T) {
	// Given a local store that cannot persist the queue
	store := &failingQueueStore{Store: localstore.NewMemoryStore()}
	env := newTestEnvWithStore(t, store)
	store.fail = true

	// When a test is created
	_, err := env.catalog.Create(cbc())

	// Then the error surfaces and the cache is unchanged
	if err == nil {
		t.Fatal("expected enqueue failure")
	}
	cached, err := env.catalog.Cached()
	if err != nil {
		t.Fatalf("Cached: %v", err)
	}
	if len(cached) != 0 {
		t.Errorf("cached = %d, want 0 after rollback", len(cached))
	}
}

type failingQueueStore struct {
	localstore.Store
	fail bool
}

func (f *failingQueueStore) Set(key, value string) error {
	if f.fail && key == queue.QueueKey {
		return errors.New("disk full")
	}
	return f.Store.Set(key, value)
}

// --- Update ---

func TestUpdate_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.catalog.Update("tst_missing", Patch{"price": 10})

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want *NotFoundError", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("error does not wrap ErrNotFound")
	}
	if env.queue.Len() != 0 {
		t.Errorf("queue length = %d, want 0", env.queue.Len())
	}
}

func TestUpdate_AppliesPatchAndKeepsImmutableFields(t *testing.T) {
	// Given a synced staff member
	env := newTestEnv(t)
	member, _, err := env.staff.Create(rajesh())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	env.queue.DequeueProcessed(ids(env.queue.Snapshot()))
	if err := env.reg.MarkSynced(types.TableStaff, []string{member.ID}); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	// When a patch tries to change the designation, id and role
	time.Sleep(2 * time.Millisecond)
	updated, err := env.staff.Update(member.ID, Patch{
		"designation": "Senior Technician",
		"id":          "stf_other",
		"role":        "phlebotomist",
		"createdAt":   "2000-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Then only the designation changes and the record is pending again
	if updated.Designation != "Senior Technician" {
		t.Errorf("designation = %q", updated.Designation)
	}
	if updated.ID != member.ID || updated.Role != types.RoleStaff || !updated.CreatedAt.Equal(member.CreatedAt) {
		t.Errorf("immutable fields changed: %+v", updated)
	}
	if !updated.UpdatedAt.After(member.UpdatedAt) {
		t.Errorf("updatedAt = %v, want after %v", updated.UpdatedAt, member.UpdatedAt)
	}
	if updated.SyncStatus != types.SyncPending {
		t.Errorf("syncStatus = %q, want pending", updated.SyncStatus)
	}

	// And an update is queued
	items := env.queue.Snapshot()
	if len(items) != 1 || items[0].Operation != queue.OpUpdate || items[0].EntityID != member.ID {
		t.Errorf("queue = %+v, want one update", items)
	}
}

func TestUpdate_DuplicatePhoneRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.staff.Create(rajesh()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	p, _, err := env.staff.Create(priya())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := env.queue.Len()

	_, err = env.staff.Update(p.ID, Patch{"phone": "9876543210"})

	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("err = %v, want ErrDuplicateKey", err)
	}
	if env.queue.Len() != before {
		t.Errorf("queue length = %d, want %d", env.queue.Len(), before)
	}
}

func TestUpdate_OwnKeysDoNotConflict(t *testing.T) {
	env := newTestEnv(t)
	test, err := env.catalog.Create(cbc())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := env.catalog.Update(test.ID, Patch{"testCode": "cbc", "price": 350}); err != nil {
		t.Errorf("Update keeping own code: %v", err)
	}
}

// --- Delete ---

func TestStaffDelete_QueuesHardDeletesForMemberAndLogin(t *testing.T) {
	// Given a staff member with a login
	env := newTestEnv(t)
	member, _, err := env.staff.Create(rajesh())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	env.queue.DequeueProcessed(ids(env.queue.Snapshot()))

	// When the member is deleted
	if err := env.staff.Delete(member.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Then both records are gone locally
	staff, _ := env.staff.List(context.Background(), types.RoleStaff)
	creds, _ := env.staff.Credentials()
	if len(staff) != 0 || len(creds) != 0 {
		t.Errorf("staff = %d, creds = %d, want 0 and 0", len(staff), len(creds))
	}

	// And hard deletes are queued: by id for the member, by person_id for the login
	items := env.queue.Snapshot()
	if len(items) != 2 {
		t.Fatalf("queue length = %d, want 2", len(items))
	}
	var p0, p1 queue.DeletePayload
	json.Unmarshal(items[0].Data, &p0)
	json.Unmarshal(items[1].Data, &p1)
	if items[0].Table != types.TableStaff || p0 != (queue.DeletePayload{Key: "id", Value: member.ID, HardDelete: true}) {
		t.Errorf("items[0] = %+v payload %+v", items[0], p0)
	}
	if items[1].Table != types.TableUsers || p1 != (queue.DeletePayload{Key: "person_id", Value: member.ID, HardDelete: true}) {
		t.Errorf("items[1] = %+v payload %+v", items[1], p1)
	}
}

func TestDelete_NotFound(t *testing.T) {
	env := newTestEnv(t)

	err := env.staff.Delete("stf_missing")

	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// --- Reads and refresh ---

func TestList_OfflineServesCacheWithoutRemoteCalls(t *testing.T) {
	env := newTestEnv(t)
	env.remote.SetSelectError(errors.New("should not be called"))
	if _, err := env.catalog.Create(cbc()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests, err := env.catalog.List(context.Background())

	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tests) != 1 {
		t.Errorf("len = %d, want 1", len(tests))
	}
}

func TestList_OnlineMergesRemote(t *testing.T) {
	// Given a pending local test and a different test only on the remote
	env := newTestEnv(t)
	local, err := env.catalog.Create(cbc())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	remoteID := types.NewID(PrefixTest)
	env.remote.Put(types.TableTests, remote.Row{
		"id": remoteID, "test_code": "LFT", "test_name": "Liver Function Test", "price": 800.0, "is_active": true,
	})

	// When listing online
	env.online.Store(true)
	tests, err := env.catalog.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	// Then both are present, the remote one marked synced
	if len(tests) != 2 {
		t.Fatalf("len = %d, want 2", len(tests))
	}
	if tests[0].ID != remoteID || tests[0].SyncStatus != types.SyncSynced || tests[0].Price != 800 {
		t.Errorf("tests[0] = %+v, want synced remote LFT", tests[0])
	}
	if tests[1].ID != local.ID || tests[1].SyncStatus != types.SyncPending {
		t.Errorf("tests[1] = %+v, want pending local CBC", tests[1])
	}
}

func TestList_RemoteFailureFallsBackToCache(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.catalog.Create(cbc()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	env.online.Store(true)
	env.remote.SetHang(true)

	start := time.Now()
	tests, err := env.catalog.List(context.Background())

	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tests) != 1 {
		t.Errorf("len = %d, want 1", len(tests))
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("List took %v, want bounded by the remote timeout", time.Since(start))
	}
}

func TestRefresh_DropsSyncedRecordsDeletedRemotely(t *testing.T) {
	// Given a synced test that no longer exists remotely
	env := newTestEnv(t)
	test, err := env.catalog.Create(cbc())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	env.queue.DequeueProcessed(ids(env.queue.Snapshot()))
	env.catalog.MarkSynced([]string{test.ID})

	// When refreshed online
	env.online.Store(true)
	if err := env.catalog.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Then it is gone
	cached, _ := env.catalog.Cached()
	if len(cached) != 0 {
		t.Errorf("cached = %+v, want empty", cached)
	}
}

func TestRefresh_OmitsRecordsWithQueuedDelete(t *testing.T) {
	// Given a remote test deleted locally but not yet synced
	env := newTestEnv(t)
	env.online.Store(true)
	id := types.NewID(PrefixTest)
	env.remote.Put(types.TableTests, remote.Row{"id": id, "test_code": "CBC", "test_name": "CBC"})
	if err := env.catalog.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := env.catalog.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// When listed again while the remote still has it
	tests, err := env.catalog.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	// Then it does not reappear
	if len(tests) != 0 {
		t.Errorf("tests = %+v, want none", tests)
	}
}

// syncingRemote calls duringSelect after each Select has read its rows,
// standing in for a sync pass that lands mid-refresh.
type syncingRemote struct {
	*remote.MemoryStore
	duringSelect func(n int32)
	selects      atomic.Int32
}

func (s *syncingRemote) Select(ctx context.Context, table string, filters ...remote.Filter) ([]remote.Row, error) {
	rows, err := s.MemoryStore.Select(ctx, table, filters...)
	n := s.selects.Add(1)
	if s.duringSelect != nil {
		s.duringSelect(n)
	}
	return rows, err
}

func TestRefresh_RereadsWhenRecordsSyncMidSelect(t *testing.T) {
	// Given a pending test whose create reaches the remote while a refresh
	// is reading the table
	env := newTestEnv(t)
	rs := &syncingRemote{MemoryStore: env.remote}
	env.reg.remote = rs
	env.online.Store(true)
	test, err := env.catalog.Create(cbc())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rs.duringSelect = func(n int32) {
		if n != 1 {
			return
		}
		env.remote.Put(types.TableTests, remote.Row{
			"id": test.ID, "test_code": "CBC", "test_name": "Complete Blood Count", "price": 300.0,
		})
		env.queue.DequeueProcessed(ids(env.queue.Snapshot()))
		if err := env.catalog.MarkSynced([]string{test.ID}); err != nil {
			t.Errorf("MarkSynced: %v", err)
		}
	}

	// When the refresh completes
	if err := env.catalog.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Then the stale snapshot is discarded and the record survives synced
	if n := rs.selects.Load(); n != 2 {
		t.Errorf("selects = %d, want 2", n)
	}
	cached, _ := env.catalog.Cached()
	if len(cached) != 1 || cached[0].ID != test.ID || cached[0].SyncStatus != types.SyncSynced {
		t.Errorf("cached = %+v, want the synced test", cached)
	}
}

func TestRefresh_KeepsCacheWhenSyncKeepsRacing(t *testing.T) {
	// Given two pending tests the remote has not listed yet, one of which
	// is marked synced during each select
	env := newTestEnv(t)
	rs := &syncingRemote{MemoryStore: env.remote}
	env.reg.remote = rs
	env.online.Store(true)
	first, err := env.catalog.Create(cbc())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := env.catalog.Create(types.LabTest{TestCode: "LFT", TestName: "Liver Function", Price: 500, IsActive: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	env.queue.DequeueProcessed(ids(env.queue.Snapshot()))
	rs.duringSelect = func(n int32) {
		id := first.ID
		if n > 1 {
			id = second.ID
		}
		if err := env.catalog.MarkSynced([]string{id}); err != nil {
			t.Errorf("MarkSynced: %v", err)
		}
	}

	// When refreshed
	if err := env.catalog.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Then it stops after the bounded re-reads and keeps both records
	if n := rs.selects.Load(); n != refreshAttempts {
		t.Errorf("selects = %d, want %d", n, refreshAttempts)
	}
	cached, _ := env.catalog.Cached()
	if len(cached) != 2 {
		t.Errorf("cached = %+v, want both tests kept", cached)
	}
}

func TestRefresh_OfflineReturnsRemoteUnavailable(t *testing.T) {
	env := newTestEnv(t)

	err := env.catalog.Refresh(context.Background())

	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Errorf("err = %v, want ErrRemoteUnavailable", err)
	}
}

func TestGet_FindsAcrossRoles(t *testing.T) {
	env := newTestEnv(t)
	p, _, err := env.staff.Create(priya())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := env.staff.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Priya Sharma" {
		t.Errorf("name = %q", got.Name)
	}

	if _, err := env.staff.Get(context.Background(), "stf_nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// --- MarkSynced ---

func TestMarkSynced_SkipsRecordsWithQueuedItems(t *testing.T) {
	// Given two tests, one of which still has a queued mutation
	env := newTestEnv(t)
	a, _ := env.catalog.Create(cbc())
	b := cbc()
	b.TestCode = "LFT"
	bRec, _ := env.catalog.Create(b)
	items := env.queue.Snapshot()
	env.queue.DequeueProcessed([]string{items[0].ID})

	// When both are marked synced
	if err := env.reg.MarkSynced(types.TableTests, []string{a.ID, bRec.ID}); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	// Then only the one without queued items flips
	cached, _ := env.catalog.Cached()
	status := map[string]types.SyncStatus{}
	for _, c := range cached {
		status[c.ID] = c.SyncStatus
	}
	if status[a.ID] != types.SyncSynced {
		t.Errorf("a = %q, want synced", status[a.ID])
	}
	if status[bRec.ID] != types.SyncPending {
		t.Errorf("b = %q, want pending", status[bRec.ID])
	}
}

// --- Translation ---

func TestRemoteRow_TranslatesToSnakeCase(t *testing.T) {
	env := newTestEnv(t)
	member, _, err := env.staff.Create(types.Staff{Name: "Asha", Phone: "9000000001", JoiningDate: "2024-01-15"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	data := env.queue.Snapshot()[0].Data

	row, err := env.reg.RemoteRow(types.TableStaff, data)
	if err != nil {
		t.Fatalf("RemoteRow: %v", err)
	}

	if row["joining_date"] != "2024-01-15" || row["id"] != member.ID {
		t.Errorf("row = %v", row)
	}
	if row["email"] != nil {
		t.Errorf("email = %v, want nil for empty", row["email"])
	}
	for _, dropped := range []string{"syncStatus", "sync_status", "role"} {
		if _, ok := row[dropped]; ok {
			t.Errorf("row contains %q", dropped)
		}
	}
	if _, ok := row["created_at"].(string); !ok {
		t.Errorf("created_at = %T, want RFC 3339 string", row["created_at"])
	}
}

func TestRemoteRow_UnknownTable(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.reg.RemoteRow("widgets", json.RawMessage(`{}`))

	if !errors.Is(err, ErrUnknownTable) {
		t.Errorf("err = %v, want ErrUnknownTable", err)
	}
}

// --- Authenticate ---

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	_, login, err := env.staff.Create(rajesh())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{"correct", login.Username, login.Password, false},
		{"username case-insensitive", "RajeshKumar3210", login.Password, false},
		{"wrong password", login.Username, "nope", true},
		{"unknown user", "ghost", login.Password, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := env.staff.Authenticate(tt.username, tt.password)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCredentials) {
					t.Errorf("err = %v, want ErrInvalidCredentials", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			if cred.Role != types.RoleStaff {
				t.Errorf("role = %q, want staff", cred.Role)
			}
		})
	}
}

func TestUsernameBase(t *testing.T) {
	tests := []struct {
		name, phone, want string
	}{
		{"Rajesh Kumar", "9876543210", "rajeshkumar3210"},
		{"  Priya   Sharma ", "+919876543211", "priyasharma3211"},
		{"Li", "123", "li123"},
	}
	for _, tt := range tests {
		if got := usernameBase(tt.name, tt.phone); got != tt.want {
			t.Errorf("usernameBase(%q, %q) = %q, want %q", tt.name, tt.phone, got, tt.want)
		}
	}
}

func TestGeneratePassword_UsesUnambiguousAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		pw, err := generatePassword()
		if err != nil {
			t.Fatalf("generatePassword: %v", err)
		}
		for _, r := range pw {
			switch r {
			case '0', 'O', '1', 'l', 'I':
				t.Fatalf("password %q contains ambiguous %q", pw, r)
			}
		}
	}
}

func ids(items []queue.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
