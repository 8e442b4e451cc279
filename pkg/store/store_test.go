package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMessageRoundtrip(t *testing.T) {
	s := openTestStore(t)

	m := &models.Message{
		ID:             "m1",
		SubscriptionID: "r1",
		Body:           "hello",
		Status:         models.StatusTemp,
		Author:         models.User{ID: "u1", Username: "alice"},
	}
	require.NoError(t, s.PutMessage(m))

	got, err := s.GetMessage("m1")
	require.NoError(t, err)
	require.Equal(t, m, got)

	ok, err := s.HasMessage("m1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.HasMessage("nope")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.GetMessage("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBatchCommitIsAtomic(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	b.SetMessage(&models.Message{ID: "m1", SubscriptionID: "r1", Status: models.StatusTemp})
	b.SetThreadMessage(&models.ThreadMessage{ID: "m1", ThreadID: "parent", SubscriptionID: "r1", Status: models.StatusTemp})
	b.SetThread(&models.Thread{ID: "parent", SubscriptionID: "r1", Status: models.StatusSent, ReplyCount: 1})
	b.SetSubscription(&models.Subscription{ID: "r1"})
	b.SetKeyRecord(&models.KeyRecord{ServerID: "srv1", PublicKey: "pub"})

	// nothing visible before commit
	_, err := s.GetMessage("m1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Commit())

	_, err = s.GetMessage("m1")
	require.NoError(t, err)
	_, err = s.GetThreadMessage("m1")
	require.NoError(t, err)
	th, err := s.GetThread("parent")
	require.NoError(t, err)
	require.Equal(t, 1, th.ReplyCount)
	_, err = s.GetSubscription("r1")
	require.NoError(t, err)
	kr, err := s.GetKeyRecord("srv1")
	require.NoError(t, err)
	require.Equal(t, "pub", kr.PublicKey)
}

func TestListThreadMessagesOrder(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a1", "b2", "c3"} {
		b := s.NewBatch()
		b.SetThreadMessage(&models.ThreadMessage{ID: id, ThreadID: "parent", SubscriptionID: "r1", Status: models.StatusSent})
		require.NoError(t, b.Commit())
	}
	// a reply in another thread must not leak in
	b := s.NewBatch()
	b.SetThreadMessage(&models.ThreadMessage{ID: "x9", ThreadID: "other", SubscriptionID: "r1", Status: models.StatusSent})
	require.NoError(t, b.Commit())

	out, err := s.ListThreadMessages("parent")
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, tm := range out {
		require.Equal(t, "parent", tm.ThreadID)
	}
}

func TestListMessagesByStatus(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutMessage(&models.Message{ID: "m1", Status: models.StatusError}))
	require.NoError(t, s.PutMessage(&models.Message{ID: "m2", Status: models.StatusSent}))
	require.NoError(t, s.PutMessage(&models.Message{ID: "m3", Status: models.StatusError}))

	out, err := s.ListMessagesByStatus(models.StatusError, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)

	out, err = s.ListMessagesByStatus(models.StatusError, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestListPendingDecrypt(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutMessage(&models.Message{
		ID: "enc1", EncryptionType: models.E2EType, E2E: models.E2EStatusPending, ServerID: "srv1",
	}))
	require.NoError(t, s.PutMessage(&models.Message{
		ID: "enc2", EncryptionType: models.E2EType, E2E: models.E2EStatusDone, ServerID: "srv1",
	}))
	require.NoError(t, s.PutMessage(&models.Message{
		ID: "enc3", EncryptionType: models.E2EType, E2E: models.E2EStatusPending, ServerID: "srv2",
	}))
	require.NoError(t, s.PutMessage(&models.Message{ID: "plain"}))

	out, err := s.ListPendingDecrypt("srv1", 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "enc1", out[0].ID)

	require.NoError(t, s.PutSubscription(&models.Subscription{
		ID: "r1", EncryptionType: models.E2EType, E2E: models.E2EStatusPending, ServerID: "srv1", LastMessage: "cipher",
	}))
	require.NoError(t, s.PutSubscription(&models.Subscription{ID: "r2", ServerID: "srv1"}))

	subs, err := s.ListSubscriptionsPendingDecrypt("srv1", 0)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "r1", subs[0].ID)
}

func TestKeyRecordRoundtrip(t *testing.T) {
	s := openTestStore(t)

	kr := &models.KeyRecord{ServerID: "srv1", PublicKey: "pub", PrivateKey: "priv", UpdatedAt: 7}
	require.NoError(t, s.PutKeyRecord(kr))
	got, err := s.GetKeyRecord("srv1")
	require.NoError(t, err)
	require.Equal(t, kr, got)
}
