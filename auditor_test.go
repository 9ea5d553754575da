package auditry_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/auditry"
	"github.com/mickamy/auditry/uow"
)

func TestAuditor_InsertUpdateDelete(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	cfg := sqliteConfig()
	logger, hook := test.NewNullLogger()
	writer := auditry.NewSQLWriter(cfg, auditry.WithDB(db), auditry.WithWriterLogger(logger))
	a := auditry.New(newRegistry(t), writer, auditry.WithLogger(logger))
	s := uow.New(db, uow.WithInterceptors(a))
	ctx := auditry.WithActor(context.Background(), "alice")

	c := &customer{ID: 1, Name: "John"}
	require.NoError(t, s.Add(c))
	_, err := s.SaveChanges(ctx)
	require.NoError(t, err)

	c.Name = "Jane"
	require.NoError(t, s.Update(c))
	_, err = s.SaveChanges(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Remove(c))
	_, err = s.SaveChanges(ctx)
	require.NoError(t, err)

	a.Wait()

	reader, err := auditry.NewReader(db, cfg)
	require.NoError(t, err)
	page, err := reader.Search(context.Background(), auditry.Filter{TableName: "Customers", EntityID: "1", Ascending: true})
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)

	insert, update, del := page.Entries[0], page.Entries[1], page.Entries[2]

	assert.Equal(t, auditry.OperationInsert, insert.Operation)
	assert.Nil(t, insert.OldValues)
	assert.Equal(t, auditry.Fields{"Id": int64(1), "Name": "John"}, insert.NewValues)

	assert.Equal(t, auditry.OperationUpdate, update.Operation)
	assert.Equal(t, auditry.Fields{"Id": int64(1), "Name": "John"}, update.OldValues)
	assert.Equal(t, auditry.Fields{"Id": int64(1), "Name": "Jane"}, update.NewValues)

	assert.Equal(t, auditry.OperationDelete, del.Operation)
	assert.Equal(t, auditry.Fields{"Id": int64(1), "Name": "Jane"}, del.OldValues)
	assert.Nil(t, del.NewValues)

	for _, e := range page.Entries {
		assert.Equal(t, "alice", e.UserID)
		assert.Equal(t, "1", e.EntityID)
		assert.WithinDuration(t, time.Now(), e.Timestamp, time.Minute)
	}
	assert.Empty(t, hook.AllEntries())
}

func TestAuditor_SkipsUnregisteredAndUnmarked(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	logger, hook := test.NewNullLogger()
	sink := &collector{}
	a := auditry.New(newRegistry(t), sink, auditry.WithLogger(logger))
	s := uow.New(db, uow.WithInterceptors(a))

	require.NoError(t, s.Add(&invoice{ID: 1, Total: 9.5}))
	require.NoError(t, s.Add(&note{ID: 1, Body: "hello"}))
	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a.Wait()
	assert.Empty(t, sink.all())
	for _, e := range hook.AllEntries() {
		assert.Greater(t, e.Level, logrus.ErrorLevel, "unexpected log %q", e.Message)
	}
}

func TestAuditor_PreservesChangeOrder(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	_, err := db.Exec(`INSERT INTO customers (id, name) VALUES (2, 'B'), (3, 'C')`)
	require.NoError(t, err)

	sink := &collector{}
	a := auditry.New(newRegistry(t), sink)
	s := uow.New(db, uow.WithInterceptors(a))

	b := &customer{ID: 2, Name: "B"}
	c := &customer{ID: 3, Name: "C"}
	require.NoError(t, s.Attach(b))
	require.NoError(t, s.Attach(c))

	require.NoError(t, s.Add(&customer{ID: 1, Name: "A"}))
	b.Name = "B2"
	require.NoError(t, s.Update(b))
	require.NoError(t, s.Remove(c))

	_, err = s.SaveChanges(context.Background())
	require.NoError(t, err)
	a.Wait()

	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{got[0].EntityID, got[1].EntityID, got[2].EntityID})
	assert.Equal(t,
		[]auditry.Operation{auditry.OperationInsert, auditry.OperationUpdate, auditry.OperationDelete},
		[]auditry.Operation{got[0].Operation, got[1].Operation, got[2].Operation},
	)
	assert.Equal(t, "system", got[0].UserID)
}

func TestAuditor_IsolatesWriterFailures(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	logger, hook := test.NewNullLogger()
	sink := &collector{}
	w := auditry.WriterFunc(func(ctx context.Context, r auditry.Record) {
		if r.EntityID == "2" {
			panic("disk on fire")
		}
		sink.Persist(ctx, r)
	})
	a := auditry.New(newRegistry(t), w, auditry.WithLogger(logger))
	s := uow.New(db, uow.WithInterceptors(a))

	for i, name := range []string{"A", "B", "C"} {
		require.NoError(t, s.Add(&customer{ID: int64(i + 1), Name: name}))
	}
	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	a.Wait()

	got := sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].EntityID)
	assert.Equal(t, "3", got[1].EntityID)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "2", hook.LastEntry().Data["entity_id"])
}

func TestAuditor_DoesNotBlockCommit(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	release := make(chan struct{})
	sink := &collector{}
	w := auditry.WriterFunc(func(ctx context.Context, r auditry.Record) {
		<-release
		sink.Persist(ctx, r)
	})
	a := auditry.New(newRegistry(t), w)
	s := uow.New(db, uow.WithInterceptors(a))

	require.NoError(t, s.Add(&customer{ID: 1, Name: "John"}))
	done := make(chan error, 1)
	go func() {
		_, err := s.SaveChanges(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("SaveChanges waited for the audit writer")
	}
	assert.Empty(t, sink.all())

	close(release)
	a.Wait()
	assert.Len(t, sink.all(), 1)
}

func TestAuditor_CancelledRequestStillPersists(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	release := make(chan struct{})
	var seen error
	w := auditry.WriterFunc(func(ctx context.Context, r auditry.Record) {
		<-release
		seen = ctx.Err()
	})
	a := auditry.New(newRegistry(t), w)
	s := uow.New(db, uow.WithInterceptors(a))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Add(&customer{ID: 1, Name: "John"}))
	_, err := s.SaveChanges(ctx)
	require.NoError(t, err)
	cancel()

	close(release)
	a.Wait()
	assert.NoError(t, seen)
}

func TestAuditor_FailedSaveProducesNothing(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	_, err := db.Exec(`INSERT INTO customers (id, name) VALUES (1, 'John')`)
	require.NoError(t, err)

	sink := &collector{}
	a := auditry.New(newRegistry(t), sink)
	s := uow.New(db, uow.WithInterceptors(a))

	require.NoError(t, s.Add(&customer{ID: 2, Name: "Jane"}))
	require.NoError(t, s.Add(&customer{ID: 1, Name: "Duplicate"}))
	_, err = s.SaveChanges(context.Background())
	require.Error(t, err)

	a.Wait()
	assert.Empty(t, sink.all())
}

func TestAuditor_Options(t *testing.T) {
	t.Parallel()

	t.Run("skip", func(t *testing.T) {
		t.Parallel()

		sink := &collector{}
		a := auditry.New(newRegistry(t), sink)
		s := uow.New(openDB(t), uow.WithInterceptors(a))
		require.NoError(t, s.Add(&customer{ID: 1, Name: "John"}))

		_, err := s.SaveChanges(auditry.WithSkip(context.Background()))
		require.NoError(t, err)
		a.Wait()
		assert.Empty(t, sink.all())
	})

	t.Run("system actor", func(t *testing.T) {
		t.Parallel()

		sink := &collector{}
		a := auditry.New(newRegistry(t), sink, auditry.WithSystemActor("batch-job"))
		s := uow.New(openDB(t), uow.WithInterceptors(a))
		require.NoError(t, s.Add(&customer{ID: 1, Name: "John"}))

		_, err := s.SaveChanges(context.Background())
		require.NoError(t, err)
		a.Wait()
		require.Len(t, sink.all(), 1)
		assert.Equal(t, "batch-job", sink.all()[0].UserID)
	})

	t.Run("redact", func(t *testing.T) {
		t.Parallel()

		sink := &collector{}
		a := auditry.New(newRegistry(t), sink, auditry.WithRedact(auditry.RedactMap{"Name": auditry.Mask}))
		s := uow.New(openDB(t), uow.WithInterceptors(a))
		require.NoError(t, s.Add(&customer{ID: 1, Name: "John"}))

		_, err := s.SaveChanges(context.Background())
		require.NoError(t, err)
		a.Wait()
		require.Len(t, sink.all(), 1)
		assert.Equal(t, auditry.Fields{"Id": int64(1), "Name": "[REDACTED]"}, sink.all()[0].NewValues)
	})
}

type flakyStrategy struct{ customerStrategy }

func (flakyStrategy) ExtractFields(c *customer) auditry.Fields {
	if c != nil && c.Name == "bad" {
		panic("cannot flatten")
	}
	return customerStrategy{}.ExtractFields(c)
}

func TestAuditor_StrategyPanicSkipsOnlyThatEntity(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	metrics := auditry.NewMetrics(prometheus.NewRegistry())
	reg, err := auditry.NewRegistry(auditry.Register[customer](flakyStrategy{}))
	require.NoError(t, err)

	sink := &collector{}
	a := auditry.New(reg, sink, auditry.WithLogger(logger), auditry.WithMetrics(metrics))
	s := uow.New(openDB(t), uow.WithInterceptors(a))
	require.NoError(t, s.Add(&customer{ID: 1, Name: "good"}))
	require.NoError(t, s.Add(&customer{ID: 2, Name: "bad"}))

	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	a.Wait()

	require.Len(t, sink.all(), 1)
	assert.Equal(t, "1", sink.all()[0].EntityID)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	var cerr *auditry.CaptureError
	require.ErrorAs(t, hook.LastEntry().Data[logrus.ErrorKey].(error), &cerr)
	assert.Equal(t, "Customers", cerr.Table)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CaptureFailures.WithLabelValues("Customers")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Captured.WithLabelValues("Customers", "Insert")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))
}

func TestAuditor_PersistsSavesOfOneSessionInOrder(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	sink := &collector{}
	// the first batch is the slowest, so any reordering would surface
	w := auditry.WriterFunc(func(ctx context.Context, r auditry.Record) {
		if r.Operation == auditry.OperationInsert {
			time.Sleep(50 * time.Millisecond)
		}
		sink.Persist(ctx, r)
	})
	a := auditry.New(newRegistry(t), w)
	s := uow.New(db, uow.WithInterceptors(a))
	ctx := context.Background()

	c := &customer{ID: 1, Name: "John"}
	require.NoError(t, s.Add(c))
	_, err := s.SaveChanges(ctx)
	require.NoError(t, err)

	c.Name = "Jane"
	require.NoError(t, s.Update(c))
	_, err = s.SaveChanges(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Remove(c))
	_, err = s.SaveChanges(ctx)
	require.NoError(t, err)

	a.Wait()
	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t,
		[]auditry.Operation{auditry.OperationInsert, auditry.OperationUpdate, auditry.OperationDelete},
		[]auditry.Operation{got[0].Operation, got[1].Operation, got[2].Operation},
	)
}

func TestAuditor_SessionsDoNotWaitOnEachOther(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	release := make(chan struct{})
	sink := &collector{}
	w := auditry.WriterFunc(func(ctx context.Context, r auditry.Record) {
		if r.EntityID == "1" {
			<-release
		}
		sink.Persist(ctx, r)
	})
	a := auditry.New(newRegistry(t), w)
	ctx := context.Background()

	first := uow.New(db, uow.WithInterceptors(a))
	require.NoError(t, first.Add(&customer{ID: 1, Name: "A"}))
	_, err := first.SaveChanges(ctx)
	require.NoError(t, err)

	second := uow.New(db, uow.WithInterceptors(a))
	require.NoError(t, second.Add(&customer{ID: 2, Name: "B"}))
	_, err = second.SaveChanges(ctx)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(sink.all()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "2", sink.all()[0].EntityID)

	close(release)
	a.Wait()
	assert.Len(t, sink.all(), 2)
}

func TestAuditor_CloseDropsLateBatches(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	metrics := auditry.NewMetrics(prometheus.NewRegistry())
	sink := &collector{}
	a := auditry.New(newRegistry(t), sink, auditry.WithLogger(logger), auditry.WithMetrics(metrics))
	s := uow.New(openDB(t), uow.WithInterceptors(a))

	require.NoError(t, s.Add(&customer{ID: 1, Name: "John"}))
	_, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	a.Close()
	require.Len(t, sink.all(), 1)

	require.NoError(t, s.Add(&customer{ID: 2, Name: "Jane"}))
	_, err = s.SaveChanges(context.Background())
	require.NoError(t, err, "a closed auditor never fails the save")
	a.Wait()

	assert.Len(t, sink.all(), 1)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Dropped.WithLabelValues("Customers", "closed")))
}

func TestAuditor_UnreachableStorageDoesNotFailSave(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	cfg := auditry.Config{
		DatabaseURL: "postgres://audit@127.0.0.1:1/audit?sslmode=disable&connect_timeout=2",
		Driver:      auditry.DriverPostgres,
	}
	writer := auditry.NewSQLWriter(cfg, auditry.WithWriterLogger(logger))
	t.Cleanup(func() { _ = writer.Close() })
	a := auditry.New(newRegistry(t), writer, auditry.WithLogger(logger))
	s := uow.New(openDB(t), uow.WithInterceptors(a))

	require.NoError(t, s.Add(&customer{ID: 1, Name: "John"}))
	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a.Wait()
	entries := hook.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, logrus.ErrorLevel, entries[0].Level)
	assert.Equal(t, "Customers", entries[0].Data["table"])
	assert.Equal(t, "1", entries[0].Data["entity_id"])
}
