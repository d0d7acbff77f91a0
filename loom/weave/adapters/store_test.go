package adapters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/loreweave/loom/db"
	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type archiveStore interface {
	ports.FragmentStore
	ports.FragmentArchive
}

// FragmentStoreSuite runs the same contract against every backend.
type FragmentStoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) archiveStore
	// failingContext yields a context under which the backend rejects writes.
	// Defaults to an already cancelled context.
	failingContext func() context.Context
	store          archiveStore
}

func (s *FragmentStoreSuite) SetupTest() {
	s.store = s.newStore(s.T())
}

func (s *FragmentStoreSuite) writeFailure() context.Context {
	if s.failingContext != nil {
		return s.failingContext()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func fragmentOf(contents ...string) *ports.Fragment {
	f := &ports.Fragment{}
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range contents {
		f.Append(HeuristicCounter{}, ports.Message{Role: ports.RoleUser, Author: "ana", Content: c, Timestamp: ts.Add(time.Duration(i) * time.Second)})
	}
	return f
}

func (s *FragmentStoreSuite) TestFetchMissing() {
	f, err := s.store.Fetch(context.Background(), "nobody")
	s.Require().NoError(err)
	s.Nil(f)

	n, err := s.store.Instances(context.Background(), "nobody")
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *FragmentStoreSuite) TestContinuationWithoutFragmentStartsInstanceOne() {
	ctx := context.Background()
	f := fragmentOf("hello")
	s.Require().NoError(s.store.Save(ctx, "c1", f, false))
	s.Equal(1, f.Instance)

	got, err := s.store.Fetch(ctx, "c1")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(1, got.Instance)
	s.Equal(f.TotalTokens, got.TotalTokens)
	s.Require().Len(got.Messages, 1)
	s.Equal("hello", got.Messages[0].Content)
	s.Equal("ana", got.Messages[0].Author)
	s.Equal(ports.RoleUser, got.Messages[0].Role)
	s.True(got.Messages[0].Timestamp.Equal(f.Messages[0].Timestamp))
}

func (s *FragmentStoreSuite) TestContinuationReplacesLatest() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, "c1", fragmentOf("a"), false))
	s.Require().NoError(s.store.Save(ctx, "c1", fragmentOf("a", "b"), false))

	got, err := s.store.Fetch(ctx, "c1")
	s.Require().NoError(err)
	s.Len(got.Messages, 2)

	n, err := s.store.Instances(ctx, "c1")
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *FragmentStoreSuite) TestNewFragmentKeepsHistory() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, "c1", fragmentOf("old one", "old two"), false))
	next := fragmentOf("summary")
	s.Require().NoError(s.store.Save(ctx, "c1", next, true))
	s.Equal(2, next.Instance)

	current, err := s.store.Fetch(ctx, "c1")
	s.Require().NoError(err)
	s.Equal(2, current.Instance)
	s.Equal("summary", current.Messages[0].Content)

	first, err := s.store.FetchInstance(ctx, "c1", 1)
	s.Require().NoError(err)
	s.Require().NotNil(first)
	s.Len(first.Messages, 2)

	missing, err := s.store.FetchInstance(ctx, "c1", 3)
	s.Require().NoError(err)
	s.Nil(missing)

	n, err := s.store.Instances(ctx, "c1")
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *FragmentStoreSuite) TestFailedSaveKeepsPreviousFragment() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, "c1", fragmentOf("a", "b"), false))

	next := fragmentOf("summary")
	s.Error(s.store.Save(s.writeFailure(), "c1", next, true))
	s.Zero(next.Instance)
	s.Error(s.store.Save(s.writeFailure(), "c1", fragmentOf("a", "b", "c"), false))

	got, err := s.store.Fetch(ctx, "c1")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(1, got.Instance)
	s.Len(got.Messages, 2)

	n, err := s.store.Instances(ctx, "c1")
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *FragmentStoreSuite) TestKeysAreIsolated() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, "a", fragmentOf("x"), false))
	s.Require().NoError(s.store.Save(ctx, "b", fragmentOf("y", "z"), true))

	a, err := s.store.Fetch(ctx, "a")
	s.Require().NoError(err)
	s.Equal("x", a.Messages[0].Content)

	b, err := s.store.Fetch(ctx, "b")
	s.Require().NoError(err)
	s.Len(b.Messages, 2)
}

func TestMemoryFragmentStore(t *testing.T) {
	suite.Run(t, &FragmentStoreSuite{newStore: func(t *testing.T) archiveStore {
		return NewMemoryFragmentStore()
	}})
}

func TestLibSQLFragmentStore(t *testing.T) {
	suite.Run(t, &FragmentStoreSuite{newStore: func(t *testing.T) archiveStore {
		conn, err := db.ConnectToDB(context.Background(), filepath.Join(t.TempDir(), "fragments.db"))
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return NewLibSQLFragmentStore(conn)
	}})
}

type failWritesKey struct{}

var errWriteRejected = errors.New("write rejected")

// failingSetHook rejects SET commands issued under a context carrying failWritesKey.
type failingSetHook struct{}

func (failingSetHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func rejectsWrites(ctx context.Context, cmds ...redis.Cmder) bool {
	if ctx.Value(failWritesKey{}) == nil {
		return false
	}
	for _, cmd := range cmds {
		if cmd.Name() == "set" {
			return true
		}
	}
	return false
}

func (failingSetHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if rejectsWrites(ctx, cmd) {
			cmd.SetErr(errWriteRejected)
			return errWriteRejected
		}
		return next(ctx, cmd)
	}
}

func (failingSetHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if rejectsWrites(ctx, cmds...) {
			for _, cmd := range cmds {
				cmd.SetErr(errWriteRejected)
			}
			return errWriteRejected
		}
		return next(ctx, cmds)
	}
}

func TestRedisFragmentStore(t *testing.T) {
	suite.Run(t, &FragmentStoreSuite{
		newStore: func(t *testing.T) archiveStore {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			client.AddHook(failingSetHook{})
			t.Cleanup(func() { client.Close() })
			return NewRedisFragmentStore(client, "lw:", 0)
		},
		failingContext: func() context.Context {
			return context.WithValue(context.Background(), failWritesKey{}, true)
		},
	})
}

func TestPostgresFragmentStore(t *testing.T) {
	url := os.Getenv("LOREWEAVE_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("LOREWEAVE_TEST_POSTGRES_URL not set")
	}
	suite.Run(t, &FragmentStoreSuite{newStore: func(t *testing.T) archiveStore {
		store, err := NewPostgresFragmentStore(context.Background(), url)
		require.NoError(t, err)
		_, err = store.pool.Exec(context.Background(), `TRUNCATE fragments`)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	}})
}

func TestMemoryFragmentStoreCopiesOnSave(t *testing.T) {
	store := NewMemoryFragmentStore()
	f := fragmentOf("a")
	require.NoError(t, store.Save(context.Background(), "c1", f, false))
	f.Messages[0].Content = "mutated"

	got, err := store.Fetch(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Messages[0].Content)
}

func TestRedisFragmentStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisFragmentStore(client, "lw:", time.Minute)

	require.NoError(t, store.Save(context.Background(), "c1", fragmentOf("a"), true))
	assert.Equal(t, time.Minute, mr.TTL("lw:c1:1"))

	mr.FastForward(2 * time.Minute)
	got, err := store.Fetch(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
