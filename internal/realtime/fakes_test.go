package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"draftroom/api/internal/store"
	"github.com/google/uuid"
)

type fakePeer struct {
	id string

	mu      sync.Mutex
	events  []Outbound
	sendErr error
	closed  bool
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(_ context.Context, event Outbound) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) failSends(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErr = err
}

func (p *fakePeer) received() []Outbound {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Outbound(nil), p.events...)
}

func (p *fakePeer) types() []string {
	var out []string
	for _, event := range p.received() {
		out = append(out, event.Type)
	}
	return out
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// stalledPeer blocks in Send until released, like a client whose socket
// stopped draining.
type stalledPeer struct {
	id      string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newStalledPeer(id string) *stalledPeer {
	return &stalledPeer{id: id, entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *stalledPeer) ID() string { return p.id }

func (p *stalledPeer) Send(context.Context, Outbound) error {
	p.once.Do(func() { close(p.entered) })
	<-p.release
	return nil
}

func (p *stalledPeer) Close() error { return nil }

type fakeCommentStore struct {
	createCommentFn  func(ctx context.Context, input store.NewComment) (store.Comment, error)
	listCommentsFn   func(ctx context.Context, documentID string) ([]store.Comment, error)
	addReplyFn       func(ctx context.Context, documentID, commentID string, author store.Author, content string) (store.Comment, error)
	updateCommentFn  func(ctx context.Context, documentID, commentID, content string) (store.Comment, error)
	resolveCommentFn func(ctx context.Context, documentID, commentID string) (store.Comment, error)
	deleteCommentFn  func(ctx context.Context, documentID, commentID string) (bool, error)
}

func (f *fakeCommentStore) CreateComment(ctx context.Context, input store.NewComment) (store.Comment, error) {
	if f.createCommentFn == nil {
		return store.Comment{}, errors.New("unexpected CreateComment call")
	}
	return f.createCommentFn(ctx, input)
}

func (f *fakeCommentStore) ListComments(ctx context.Context, documentID string) ([]store.Comment, error) {
	if f.listCommentsFn == nil {
		return []store.Comment{}, nil
	}
	return f.listCommentsFn(ctx, documentID)
}

func (f *fakeCommentStore) AddReply(ctx context.Context, documentID, commentID string, author store.Author, content string) (store.Comment, error) {
	if f.addReplyFn == nil {
		return store.Comment{}, errors.New("unexpected AddReply call")
	}
	return f.addReplyFn(ctx, documentID, commentID, author, content)
}

func (f *fakeCommentStore) UpdateComment(ctx context.Context, documentID, commentID, content string) (store.Comment, error) {
	if f.updateCommentFn == nil {
		return store.Comment{}, errors.New("unexpected UpdateComment call")
	}
	return f.updateCommentFn(ctx, documentID, commentID, content)
}

func (f *fakeCommentStore) ResolveComment(ctx context.Context, documentID, commentID string) (store.Comment, error) {
	if f.resolveCommentFn == nil {
		return store.Comment{}, errors.New("unexpected ResolveComment call")
	}
	return f.resolveCommentFn(ctx, documentID, commentID)
}

func (f *fakeCommentStore) DeleteComment(ctx context.Context, documentID, commentID string) (bool, error) {
	if f.deleteCommentFn == nil {
		return false, errors.New("unexpected DeleteComment call")
	}
	return f.deleteCommentFn(ctx, documentID, commentID)
}

// memoryComments wires a fakeCommentStore to an in-memory table with the same
// document scoping as the Postgres store.
func memoryComments() *fakeCommentStore {
	var mu sync.Mutex
	rows := map[string]store.Comment{}

	lookup := func(documentID, commentID string) (store.Comment, error) {
		comment, ok := rows[commentID]
		if !ok || comment.DocumentID != documentID {
			return store.Comment{}, store.ErrNotFound
		}
		return comment, nil
	}

	return &fakeCommentStore{
		createCommentFn: func(_ context.Context, input store.NewComment) (store.Comment, error) {
			mu.Lock()
			defer mu.Unlock()
			comment := store.Comment{
				ID:            uuid.NewString(),
				DocumentID:    input.DocumentID,
				UserID:        input.Author.ID,
				UserName:      input.Author.Name,
				UserEmail:     input.Author.Email,
				Content:       input.Content,
				SelectionText: input.SelectionText,
				Position:      input.Position,
				SectionID:     input.SectionID,
				Status:        store.CommentActive,
				Replies:       []store.Reply{},
				CreatedAt:     time.Now().UTC(),
			}
			rows[comment.ID] = comment
			return comment, nil
		},
		listCommentsFn: func(_ context.Context, documentID string) ([]store.Comment, error) {
			mu.Lock()
			defer mu.Unlock()
			out := []store.Comment{}
			for _, comment := range rows {
				if comment.DocumentID == documentID {
					out = append(out, comment)
				}
			}
			sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
			return out, nil
		},
		addReplyFn: func(_ context.Context, documentID, commentID string, author store.Author, content string) (store.Comment, error) {
			mu.Lock()
			defer mu.Unlock()
			comment, err := lookup(documentID, commentID)
			if err != nil {
				return store.Comment{}, err
			}
			comment.Replies = append(comment.Replies, store.Reply{
				ID:        uuid.NewString(),
				UserID:    author.ID,
				UserName:  author.Name,
				Content:   content,
				CreatedAt: time.Now().UTC(),
			})
			rows[commentID] = comment
			return comment, nil
		},
		updateCommentFn: func(_ context.Context, documentID, commentID, content string) (store.Comment, error) {
			mu.Lock()
			defer mu.Unlock()
			comment, err := lookup(documentID, commentID)
			if err != nil {
				return store.Comment{}, err
			}
			now := time.Now().UTC()
			comment.Content = content
			comment.UpdatedAt = &now
			rows[commentID] = comment
			return comment, nil
		},
		resolveCommentFn: func(_ context.Context, documentID, commentID string) (store.Comment, error) {
			mu.Lock()
			defer mu.Unlock()
			comment, err := lookup(documentID, commentID)
			if err != nil {
				return store.Comment{}, err
			}
			now := time.Now().UTC()
			comment.Status = store.CommentResolved
			comment.UpdatedAt = &now
			rows[commentID] = comment
			return comment, nil
		},
		deleteCommentFn: func(_ context.Context, documentID, commentID string) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			if _, err := lookup(documentID, commentID); err != nil {
				return false, nil
			}
			delete(rows, commentID)
			return true, nil
		},
	}
}

func startRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		registry.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return registry
}

func authenticated(userID string) Identity {
	return Identity{
		UserID:        userID,
		UserName:      "User " + userID,
		Mode:          AuthVerified,
		Authenticated: true,
	}
}

// subscribers returns the IDs subscribed to documentID in subscription order.
func (r *Registry) subscribers(documentID string) []string {
	var ids []string
	r.exec(func() {
		for _, peer := range r.subscriptions[documentID] {
			ids = append(ids, peer.ID())
		}
	})
	return ids
}

func (r *Registry) hasDocument(documentID string) bool {
	var ok bool
	r.exec(func() {
		_, ok = r.subscriptions[documentID]
	})
	return ok
}

func kindOf(err error) ErrorKind {
	var ce *ChannelError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
