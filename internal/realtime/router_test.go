package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"draftroom/api/internal/auth"
	"draftroom/api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerFixture struct {
	registry *Registry
	router   *Router
	comments *fakeCommentStore
	verifier *auth.Verifier
}

func newRouterFixture(t *testing.T, comments *fakeCommentStore) *routerFixture {
	t.Helper()
	registry := startRegistry(t)
	verifier := auth.NewVerifier("router-secret", "")
	router := NewRouter(registry, NewHandshake(verifier, grantFor("doc-1")), NewBroadcaster(registry, nil), comments, nil)
	return &routerFixture{registry: registry, router: router, comments: comments, verifier: verifier}
}

// join subscribes a peer to doc-1, optionally signed in as userID.
func (f *routerFixture) join(t *testing.T, id, userID string) *fakePeer {
	t.Helper()
	peer := newFakePeer(id)
	f.registry.Subscribe("doc-1", peer)
	if userID != "" {
		f.registry.SetIdentity(id, authenticated(userID))
	}
	return peer
}

func (f *routerFixture) dispatch(t *testing.T, peer Peer, event Inbound) {
	t.Helper()
	require.NoError(t, f.router.Dispatch(context.Background(), "doc-1", peer, event))
}

func TestRouterRejectsMutationsBeforeAuth(t *testing.T) {
	comments := &fakeCommentStore{}
	called := false
	comments.createCommentFn = func(context.Context, store.NewComment) (store.Comment, error) {
		called = true
		return store.Comment{}, nil
	}
	f := newRouterFixture(t, comments)
	sender := f.join(t, "a", "")
	other := f.join(t, "b", "u2")

	f.dispatch(t, sender, NewCommentRequest{Content: "hello"})
	f.dispatch(t, sender, ResolveCommentRequest{CommentID: "c1"})
	f.dispatch(t, sender, DeleteCommentRequest{CommentID: "c1"})

	assert.False(t, called)
	events := sender.received()
	require.Len(t, events, 3)
	for _, event := range events {
		assert.Equal(t, EventError, event.Type)
		assert.Equal(t, "Authentication required", event.Message)
	}
	assert.Empty(t, other.received())
}

func TestRouterCreateComment(t *testing.T) {
	f := newRouterFixture(t, memoryComments())
	sender := f.join(t, "a", "u1")
	other := f.join(t, "b", "u2")
	third := f.join(t, "c", "")

	f.dispatch(t, sender, NewCommentRequest{Content: "looks good"})

	require.Equal(t, []string{EventCommentCreated}, sender.types())
	require.Equal(t, []string{EventNewComment}, other.types())
	require.Equal(t, []string{EventNewComment}, third.types())

	created := sender.received()[0].Comment
	broadcast := other.received()[0].Comment
	require.NotNil(t, created)
	assert.Equal(t, created, broadcast)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "doc-1", created.DocumentID)
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, "User u1", created.UserName)
	assert.Equal(t, store.CommentActive, created.Status)
}

func TestRouterReplyResolveUpdateDelete(t *testing.T) {
	comments := memoryComments()
	f := newRouterFixture(t, comments)
	sender := f.join(t, "a", "u1")
	other := f.join(t, "b", "u2")

	f.dispatch(t, sender, NewCommentRequest{Content: "first"})
	commentID := sender.received()[0].Comment.ID

	f.dispatch(t, other, NewReplyRequest{CommentID: commentID, Content: "agreed"})
	f.dispatch(t, other, UpdateCommentRequest{CommentID: commentID, Content: "first, edited"})
	f.dispatch(t, other, ResolveCommentRequest{CommentID: commentID})
	f.dispatch(t, other, DeleteCommentRequest{CommentID: commentID})

	assert.Equal(t, []string{
		EventCommentCreated,
		EventNewReply,
		EventCommentUpdated,
		EventCommentResolved,
		EventCommentDeleted,
	}, sender.types())
	assert.Equal(t, []string{
		EventNewComment,
		EventReplyCreated,
		EventCommentUpdated,
		EventCommentResolved,
		EventCommentDeleted,
	}, other.types())

	seen := sender.received()
	require.Len(t, seen[1].Comment.Replies, 1)
	assert.Equal(t, "u2", seen[1].Comment.Replies[0].UserID)
	assert.Equal(t, "first, edited", seen[2].Comment.Content)
	assert.Equal(t, store.CommentResolved, seen[3].Comment.Status)
	assert.Equal(t, commentID, seen[4].CommentID)
}

func TestRouterMissingCommentIsReportedToSenderOnly(t *testing.T) {
	f := newRouterFixture(t, memoryComments())
	sender := f.join(t, "a", "u1")
	other := f.join(t, "b", "u2")

	f.dispatch(t, sender, DeleteCommentRequest{CommentID: "missing"})
	f.dispatch(t, sender, ResolveCommentRequest{CommentID: "missing"})
	f.dispatch(t, sender, NewReplyRequest{CommentID: "missing", Content: "hi"})

	for _, event := range sender.received() {
		assert.Equal(t, EventError, event.Type)
		assert.Equal(t, "Comment not found", event.Message)
	}
	assert.Len(t, sender.received(), 3)
	assert.Empty(t, other.received())
}

func TestRouterPersistenceFailure(t *testing.T) {
	f := newRouterFixture(t, &fakeCommentStore{
		resolveCommentFn: func(context.Context, string, string) (store.Comment, error) {
			return store.Comment{}, errors.New(`ERROR: duplicate key value violates unique constraint "comments_pkey" (SQLSTATE 23505)`)
		},
	})
	sender := f.join(t, "a", "u1")
	other := f.join(t, "b", "u2")

	f.dispatch(t, sender, ResolveCommentRequest{CommentID: "c1"})

	events := sender.received()
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, "Failed to resolve comment", events[0].Message)
	assert.NotContains(t, events[0].Message, "SQLSTATE")
	assert.Empty(t, other.received())
}

func TestRouterAuthSuccessAndFailure(t *testing.T) {
	comments := &fakeCommentStore{}
	f := newRouterFixture(t, comments)
	peer := f.join(t, "a", "")

	token, err := f.verifier.Issue(auth.Claims{Sub: "u1", Name: "Ada"}, time.Hour)
	require.NoError(t, err)
	f.dispatch(t, peer, AuthRequest{VerifiedToken: token})

	events := peer.received()
	require.Len(t, events, 1)
	assert.Equal(t, EventAuthSuccess, events[0].Type)
	require.NotNil(t, events[0].UserInfo)
	assert.Equal(t, "u1", events[0].UserInfo.UserID)
	assert.Equal(t, AuthVerified, events[0].UserInfo.AuthMode)
	assert.True(t, f.registry.Identity("a").Authenticated)

	// A later failed auth replaces the earlier identity.
	f.dispatch(t, peer, AuthRequest{VerifiedToken: "garbage"})
	events = peer.received()
	require.Len(t, events, 2)
	assert.Equal(t, EventAuthFailed, events[1].Type)
	assert.Equal(t, "Invalid or expired token", events[1].Message)
	assert.False(t, f.registry.Identity("a").Authenticated)

	f.dispatch(t, peer, NewCommentRequest{Content: "still anonymous"})
	events = peer.received()
	require.Len(t, events, 3)
	assert.Equal(t, "Authentication required", events[2].Message)
}

func TestRouterShareAuthenticationUsesGrant(t *testing.T) {
	f := newRouterFixture(t, memoryComments())
	peer := f.join(t, "a", "")

	f.dispatch(t, peer, AuthRequest{ShareToken: "share-tok"})
	f.dispatch(t, peer, NewCommentRequest{Content: "from a guest"})

	events := peer.received()
	require.Len(t, events, 2)
	assert.Equal(t, AuthShared, events[0].UserInfo.AuthMode)
	assert.Equal(t, "shared_owner-1", events[1].Comment.UserID)
	assert.Equal(t, "Reviewer", events[1].Comment.UserName)
}

func TestRouterIgnoresUnknownEvents(t *testing.T) {
	f := newRouterFixture(t, &fakeCommentStore{})
	peer := f.join(t, "a", "u1")

	f.dispatch(t, peer, Unknown{Type: "typing"})

	assert.Empty(t, peer.received())
}

func TestRouterReturnsErrorWhenSenderIsGone(t *testing.T) {
	f := newRouterFixture(t, memoryComments())
	sender := f.join(t, "a", "u1")
	other := f.join(t, "b", "u2")
	sender.failSends(errors.New("closed"))

	err := f.router.Dispatch(context.Background(), "doc-1", sender, NewCommentRequest{Content: "hi"})

	require.Error(t, err)
	assert.Equal(t, ErrTransport, kindOf(err))
	assert.Equal(t, []string{EventNewComment}, other.types())
}
