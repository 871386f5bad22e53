package feed_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/GetStream/stream-social-feed/database"
	"github.com/GetStream/stream-social-feed/feed"
	"github.com/GetStream/stream-social-feed/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
)

var (
	alice = feed.Actor{ID: "u-alice", Username: "alice", DisplayName: "Alice"}
	bob   = feed.Actor{ID: "u-bob", Username: "bob", DisplayName: "Bob", Avatar: "https://cdn.example.com/bob.png"}
	carol = feed.Actor{ID: "u-carol", Username: "carol", DisplayName: "Carol"}
)

type testEnv struct {
	engine *feed.Engine
	db     *database.DB
	cache  *redis.Redis
	redis  *miniredis.Miniredis
}

// newTestEnv returns an engine backed by an in-memory SQLite database and a
// miniredis cache. Its clock advances by a millisecond on every read.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Connect(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.CreateSchema(ctx); err != nil {
		t.Fatal(err)
	}

	m := miniredis.RunT(t)
	cache, err := redis.Connect(ctx, m.Addr(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	var (
		mu    sync.Mutex
		clock = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	)
	e := &feed.Engine{
		Logger: slogt.New(t),
		Store:  db,
		Cache:  cache,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Millisecond)
			return clock
		},
	}

	for _, a := range []feed.Actor{alice, bob, carol} {
		if _, err := e.Register(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	return &testEnv{engine: e, db: db, cache: cache, redis: m}
}

func (env *testEnv) post(t *testing.T, author feed.Actor, content string) feed.Post {
	t.Helper()
	p, err := env.engine.CreatePost(context.Background(), author, feed.NewPost{Content: content})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	return p
}

func (env *testEnv) notifications(t *testing.T, recipient feed.Actor) feed.NotificationFeed {
	t.Helper()
	nf, err := env.engine.Notifications(context.Background(), recipient.ID)
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	return nf
}

func TestEngine_Register(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   feed.Actor
		wantErr error
	}{
		{name: "MissingID", actor: feed.Actor{Username: "x", DisplayName: "X"}, wantErr: feed.ErrValidation},
		{name: "MissingUsername", actor: feed.Actor{ID: "u-x", DisplayName: "X"}, wantErr: feed.ErrValidation},
		{name: "OK", actor: feed.Actor{ID: "u-dave", Username: "dave", DisplayName: "Dave"}},
		{name: "UsernameTaken", actor: feed.Actor{ID: "u-other", Username: "alice", DisplayName: "Other"}, wantErr: feed.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := env.engine.Register(ctx, tt.actor)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Register() error = %v, want %v", err, tt.wantErr)
			}
			if errors.Is(err, feed.ErrStorageUnavailable) {
				t.Errorf("Register() gave up retrying a permanent error: %v", err)
			}
			if err == nil && u.Username != tt.actor.Username {
				t.Errorf("Got username %q, want %q", u.Username, tt.actor.Username)
			}
		})
	}
}

func TestEngine_CreatePost(t *testing.T) {
	media := func(n int) []feed.Media {
		out := make([]feed.Media, n)
		for i := range out {
			out[i] = feed.Media{URL: fmt.Sprintf("https://cdn.example.com/%d.png", i), Kind: feed.MediaImage}
		}
		return out
	}

	tests := []struct {
		name         string
		np           feed.NewPost
		wantErr      error
		wantHashtags []string
	}{
		{name: "Empty", np: feed.NewPost{Content: "  \n"}, wantErr: feed.ErrValidation},
		{name: "TooManyMedia", np: feed.NewPost{Content: "x", Media: media(5)}, wantErr: feed.ErrValidation},
		{name: "MediaWithoutURL", np: feed.NewPost{Media: []feed.Media{{Kind: feed.MediaVideo}}}, wantErr: feed.ErrValidation},
		{name: "UnknownMediaKind", np: feed.NewPost{Media: []feed.Media{{URL: "https://cdn.example.com/a", Kind: "gif"}}}, wantErr: feed.ErrValidation},
		{name: "MediaOnly", np: feed.NewPost{Media: media(4)}, wantHashtags: []string{}},
		{
			name:         "Hashtags",
			np:           feed.NewPost{Content: "#go is fun #go #gophers", Location: " Amsterdam "},
			wantHashtags: []string{"#go", "#gophers"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			p, err := env.engine.CreatePost(ctx, alice, tt.np)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreatePost() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			if diff := cmp.Diff(tt.wantHashtags, p.Hashtags); diff != "" {
				t.Errorf("Hashtags mismatch (-want +got):\n%s", diff)
			}
			if want := (feed.Author{ID: alice.ID, Username: alice.Username, DisplayName: alice.DisplayName}); p.Author != want {
				t.Errorf("Got author %+v, want %+v", p.Author, want)
			}
			if len(p.Comments) != 0 || len(p.Likes) != 0 {
				t.Errorf("Got comments %v and likes %v on a new post, want none", p.Comments, p.Likes)
			}

			ids, err := env.cache.RecentPostIDs(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]string{p.ID}, ids); diff != "" {
				t.Errorf("Recent posts mismatch (-want +got):\n%s", diff)
			}
			if nf := env.notifications(t, alice); len(nf.Notifications) != 0 {
				t.Errorf("Got %d notifications for a new post, want none", len(nf.Notifications))
			}
		})
	}
}

func TestEngine_ListPosts(t *testing.T) {
	for _, withCache := range []bool{true, false} {
		t.Run(fmt.Sprintf("cache=%v", withCache), func(t *testing.T) {
			env := newTestEnv(t)
			if !withCache {
				env.engine.Cache = nil
			}
			ctx := context.Background()

			var ids []string
			for i := range 12 {
				p := env.post(t, alice, fmt.Sprintf("post %d", i))
				ids = append([]string{p.ID}, ids...)
			}

			first, err := env.engine.ListPosts(ctx, 1)
			if err != nil {
				t.Fatal(err)
			}
			second, err := env.engine.ListPosts(ctx, 2)
			if err != nil {
				t.Fatal(err)
			}
			third, err := env.engine.ListPosts(ctx, 3)
			if err != nil {
				t.Fatal(err)
			}

			if len(first) != 10 || len(second) != 2 {
				t.Errorf("Got pages of %d and %d posts, want 10 and 2", len(first), len(second))
			}
			got := postIDs(append(first, second...))
			if diff := cmp.Diff(ids, got); diff != "" {
				t.Errorf("ListPosts() mismatch (-want +got):\n%s", diff)
			}
			if third == nil || len(third) != 0 {
				t.Errorf("Got page 3 %v, want empty", third)
			}
		})
	}
}

func TestEngine_ListUserPosts(t *testing.T) {
	env := newTestEnv(t)
	a1 := env.post(t, alice, "one")
	env.post(t, bob, "two")
	a2 := env.post(t, alice, "three")

	got, err := env.engine.ListUserPosts(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{a2.ID, a1.ID}, postIDs(got)); diff != "" {
		t.Errorf("ListUserPosts() mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_ToggleLike(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.post(t, alice, "hello")

	steps := []struct {
		actor         feed.Actor
		wantLiked     bool
		wantLikes     []string
		wantNotifying int
	}{
		{actor: bob, wantLiked: true, wantLikes: []string{bob.ID}, wantNotifying: 1},
		{actor: bob, wantLiked: false, wantLikes: []string{}, wantNotifying: 1},
		{actor: bob, wantLiked: true, wantLikes: []string{bob.ID}, wantNotifying: 2},
		{actor: alice, wantLiked: true, wantLikes: []string{bob.ID, alice.ID}, wantNotifying: 2},
		{actor: carol, wantLiked: true, wantLikes: []string{bob.ID, alice.ID, carol.ID}, wantNotifying: 3},
		{actor: alice, wantLiked: false, wantLikes: []string{bob.ID, carol.ID}, wantNotifying: 3},
	}
	for i, s := range steps {
		got, liked, err := env.engine.ToggleLike(ctx, s.actor, p.ID)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if liked != s.wantLiked {
			t.Errorf("step %d: got liked %v, want %v", i, liked, s.wantLiked)
		}
		if got.LikedBy(s.actor.ID) != liked {
			t.Errorf("step %d: LikedBy(%s) = %v, want %v", i, s.actor.ID, got.LikedBy(s.actor.ID), liked)
		}
		if diff := cmp.Diff(s.wantLikes, got.Likes); diff != "" {
			t.Errorf("step %d: likes mismatch (-want +got):\n%s", i, diff)
		}
		if nf := env.notifications(t, alice); len(nf.Notifications) != s.wantNotifying {
			t.Errorf("step %d: got %d notifications, want %d", i, len(nf.Notifications), s.wantNotifying)
		}
	}

	n := env.notifications(t, alice).Notifications[0]
	want := feed.Notification{
		ID:        n.ID,
		Type:      feed.NotificationLike,
		Actor:     carol,
		Post:      &feed.PostSnapshot{ID: p.ID, Content: "hello", Media: []feed.Media{}},
		Recipient: alice.ID,
		CreatedAt: n.CreatedAt,
	}
	if diff := cmp.Diff(want, n); diff != "" {
		t.Errorf("Notification mismatch (-want +got):\n%s", diff)
	}

	if _, _, err := env.engine.ToggleLike(ctx, bob, "missing"); !errors.Is(err, feed.ErrNotFound) {
		t.Errorf("ToggleLike(missing) error = %v, want ErrNotFound", err)
	}
}

func TestEngine_ToggleLike_concurrent(t *testing.T) {
	t.Run("SameCaller", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		p := env.post(t, alice, "hello")

		const n = 6
		var (
			wg          sync.WaitGroup
			mu          sync.Mutex
			activations int
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, liked, err := env.engine.ToggleLike(ctx, bob, p.ID)
				if err != nil {
					t.Errorf("ToggleLike: %v", err)
					return
				}
				if liked {
					mu.Lock()
					activations++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if activations != n/2 {
			t.Errorf("Got %d activations, want %d", activations, n/2)
		}
		if got := len(env.notifications(t, alice).Notifications); got != activations {
			t.Errorf("Got %d notifications, want one per activation (%d)", got, activations)
		}
		final, err := env.engine.GetPost(ctx, p.ID)
		if err != nil {
			t.Fatal(err)
		}
		if final.LikedBy(bob.ID) {
			t.Error("Post is liked after an even number of toggles")
		}
	})

	t.Run("DifferentCallers", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		p := env.post(t, alice, "hello")

		var wg sync.WaitGroup
		for _, a := range []feed.Actor{bob, carol} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := env.engine.ToggleLike(ctx, a, p.ID); err != nil {
					t.Errorf("ToggleLike(%s): %v", a.ID, err)
				}
			}()
		}
		wg.Wait()

		final, err := env.engine.GetPost(ctx, p.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !final.LikedBy(bob.ID) || !final.LikedBy(carol.ID) {
			t.Errorf("Got likes %v, want both bob and carol", final.Likes)
		}
	})
}

func TestEngine_AddComment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.post(t, alice, "hello")

	if _, err := env.engine.AddComment(ctx, bob, p.ID, "   "); !errors.Is(err, feed.ErrValidation) {
		t.Errorf("AddComment(blank) error = %v, want ErrValidation", err)
	}
	if _, err := env.engine.AddComment(ctx, bob, "missing", "hi"); !errors.Is(err, feed.ErrNotFound) {
		t.Errorf("AddComment(missing) error = %v, want ErrNotFound", err)
	}

	if _, err := env.engine.AddComment(ctx, alice, p.ID, "my own"); err != nil {
		t.Fatal(err)
	}
	got, err := env.engine.AddComment(ctx, bob, p.ID, "  nice!  ")
	if err != nil {
		t.Fatal(err)
	}

	if len(got.Comments) != 2 {
		t.Fatalf("Got %d comments, want 2", len(got.Comments))
	}
	c := got.Comments[1]
	if c.Content != "nice!" || c.Author != bob {
		t.Errorf("Got comment %+v, want nice! by bob", c)
	}
	if got.Comments[0].ID == c.ID {
		t.Error("Comments share an id")
	}

	nf := env.notifications(t, alice)
	if len(nf.Notifications) != 1 {
		t.Fatalf("Got %d notifications, want 1 (own comment is not notified)", len(nf.Notifications))
	}
	n := nf.Notifications[0]
	want := feed.Notification{
		ID:        n.ID,
		Type:      feed.NotificationComment,
		Actor:     bob,
		Post:      &feed.PostSnapshot{ID: p.ID, Content: "hello", Media: []feed.Media{}},
		Comment:   &feed.CommentSnapshot{ID: c.ID, Content: "nice!", Author: bob},
		Recipient: alice.ID,
		CreatedAt: n.CreatedAt,
	}
	if diff := cmp.Diff(want, n); diff != "" {
		t.Errorf("Notification mismatch (-want +got):\n%s", diff)
	}
}

// gatedStore holds the AppendComment call carrying content until release is
// closed. It closes entered once that call arrives.
type gatedStore struct {
	feed.Store

	content string
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) AppendComment(ctx context.Context, postID string, c feed.Comment) (feed.Post, error) {
	if c.Content == s.content {
		close(s.entered)
		<-s.release
	}
	return s.Store.AppendComment(ctx, postID, c)
}

func TestEngine_AddComment_concurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.post(t, alice, "hello")

	gs := &gatedStore{
		Store:   env.db,
		content: "first",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	env.engine.Store = gs

	done := make(chan error, 1)
	go func() {
		_, err := env.engine.AddComment(ctx, bob, p.ID, "first")
		done <- err
	}()

	// "first" was stamped before "second" but is appended after it.
	<-gs.entered
	_, err := env.engine.AddComment(ctx, carol, p.ID, "second")
	close(gs.release)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got, err := env.engine.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	var contents []string
	for i, c := range got.Comments {
		contents = append(contents, c.Content)
		if i > 0 && !c.CreatedAt.After(got.Comments[i-1].CreatedAt) {
			t.Errorf("Comment %d is not newer than its predecessor", i)
		}
	}
	if diff := cmp.Diff([]string{"second", "first"}, contents); diff != "" {
		t.Errorf("Comment order mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_ToggleFollow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.ToggleFollow(ctx, alice, alice.ID); !errors.Is(err, feed.ErrValidation) {
		t.Errorf("ToggleFollow(self) error = %v, want ErrValidation", err)
	}
	if _, err := env.engine.ToggleFollow(ctx, alice, "u-nobody"); !errors.Is(err, feed.ErrNotFound) {
		t.Errorf("ToggleFollow(unknown) error = %v, want ErrNotFound", err)
	}

	following, err := env.engine.ToggleFollow(ctx, alice, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !following {
		t.Fatal("Got following false, want true")
	}
	checkFollows(t, env, alice, bob, true)

	nf := env.notifications(t, bob)
	if len(nf.Notifications) != 1 {
		t.Fatalf("Got %d notifications, want 1", len(nf.Notifications))
	}
	if n := nf.Notifications[0]; n.Type != feed.NotificationFollow || n.Actor != alice || n.Post != nil || n.Comment != nil {
		t.Errorf("Got notification %+v, want follow by alice without post or comment", n)
	}

	following, err = env.engine.ToggleFollow(ctx, alice, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if following {
		t.Fatal("Got following true, want false")
	}
	checkFollows(t, env, alice, bob, false)
	if got := len(env.notifications(t, bob).Notifications); got != 1 {
		t.Errorf("Got %d notifications after unfollow, want 1", got)
	}
}

func TestEngine_ToggleFollow_concurrent(t *testing.T) {
	t.Run("SameCaller", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()

		const n = 6
		var (
			wg          sync.WaitGroup
			mu          sync.Mutex
			activations int
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				following, err := env.engine.ToggleFollow(ctx, bob, alice.ID)
				if err != nil {
					t.Errorf("ToggleFollow: %v", err)
					return
				}
				if following {
					mu.Lock()
					activations++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if activations != n/2 {
			t.Errorf("Got %d activations, want %d", activations, n/2)
		}
		nf := env.notifications(t, alice)
		if got := len(nf.Notifications); got != activations {
			t.Errorf("Got %d follow notifications, want one per activation (%d)", got, activations)
		}
		for _, got := range nf.Notifications {
			if got.Type != feed.NotificationFollow || got.Actor != bob {
				t.Errorf("Got notification %+v, want follow by bob", got)
			}
		}
		checkFollows(t, env, bob, alice, false)
	})

	t.Run("Mutual", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for _, pair := range [][2]feed.Actor{{alice, bob}, {bob, alice}} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := env.engine.ToggleFollow(ctx, pair[0], pair[1].ID); err != nil {
					t.Errorf("ToggleFollow(%s, %s): %v", pair[0].ID, pair[1].ID, err)
				}
			}()
		}
		wg.Wait()

		checkFollows(t, env, alice, bob, true)
		checkFollows(t, env, bob, alice, true)
		for _, a := range []feed.Actor{alice, bob} {
			p, err := env.engine.Profile(ctx, a, a.Username)
			if err != nil {
				t.Fatal(err)
			}
			if p.FollowerCount != 1 || p.FollowingCount != 1 {
				t.Errorf("Got %s counts %d/%d, want 1/1", a.ID, p.FollowerCount, p.FollowingCount)
			}
			if got := len(env.notifications(t, a).Notifications); got != 1 {
				t.Errorf("Got %d notifications for %s, want 1", got, a.ID)
			}
		}
	})
}

func checkFollows(t *testing.T, env *testEnv, a, b feed.Actor, want bool) {
	t.Helper()
	ctx := context.Background()

	pa, err := env.engine.Profile(ctx, b, a.Username)
	if err != nil {
		t.Fatal(err)
	}
	pb, err := env.engine.Profile(ctx, a, b.Username)
	if err != nil {
		t.Fatal(err)
	}
	inFollowing := len(pa.FollowingIDs) == 1 && pa.FollowingIDs[0] == b.ID
	inFollowers := len(pb.FollowerIDs) == 1 && pb.FollowerIDs[0] == a.ID
	if inFollowing != want || inFollowers != want {
		t.Errorf("Got %s following %v and %s followers %v, want edge present = %v", a.ID, pa.FollowingIDs, b.ID, pb.FollowerIDs, want)
	}
	if pb.IsFollowing != want {
		t.Errorf("Got IsFollowing %v, want %v", pb.IsFollowing, want)
	}
}

func TestEngine_Profile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.ToggleFollow(ctx, bob, alice.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.ToggleFollow(ctx, carol, alice.ID); err != nil {
		t.Fatal(err)
	}

	p, err := env.engine.Profile(ctx, alice, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.FollowerCount != 2 || p.FollowingCount != 0 || !p.IsCurrentUser || p.IsFollowing {
		t.Errorf("Got profile %+v, want 2 followers, 0 following, current user, not following", p)
	}

	if _, err := env.engine.Profile(ctx, alice, "nobody"); !errors.Is(err, feed.ErrNotFound) {
		t.Errorf("Profile(nobody) error = %v, want ErrNotFound", err)
	}
}

func TestEngine_UpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := env.post(t, alice, "hello")
	if _, err := env.engine.AddComment(ctx, bob, p.ID, "first"); err != nil {
		t.Fatal(err)
	}

	if _, err := env.engine.UpdateProfile(ctx, bob, feed.ProfileUpdate{}); !errors.Is(err, feed.ErrValidation) {
		t.Errorf("UpdateProfile(empty) error = %v, want ErrValidation", err)
	}

	avatar := "https://cdn.example.com/bob-new.png"
	bio := "gopher"
	u, err := env.engine.UpdateProfile(ctx, bob, feed.ProfileUpdate{Bio: &bio, Avatar: &avatar})
	if err != nil {
		t.Fatal(err)
	}
	if u.Bio != bio || u.Avatar != avatar {
		t.Errorf("Got bio %q avatar %q, want %q %q", u.Bio, u.Avatar, bio, avatar)
	}

	// Snapshots taken before the update keep the old avatar.
	got, err := env.engine.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Comments[0].Author.Avatar != bob.Avatar {
		t.Errorf("Got comment avatar %q, want %q", got.Comments[0].Author.Avatar, bob.Avatar)
	}
	if n := env.notifications(t, alice).Notifications[0]; n.Actor.Avatar != bob.Avatar {
		t.Errorf("Got notification avatar %q, want %q", n.Actor.Avatar, bob.Avatar)
	}
}

// flakyStore injects failures into a real store.
type flakyStore struct {
	feed.Store

	mu              sync.Mutex
	likeConflicts   int
	likeCalls       int
	failNotifyWrite bool
}

func (s *flakyStore) ToggleLike(ctx context.Context, postID, userID string, at time.Time) (feed.Post, bool, error) {
	s.mu.Lock()
	s.likeCalls++
	conflict := s.likeCalls <= s.likeConflicts
	s.mu.Unlock()
	if conflict {
		return feed.Post{}, false, fmt.Errorf("%w: injected", feed.ErrConflict)
	}
	return s.Store.ToggleLike(ctx, postID, userID, at)
}

func (s *flakyStore) InsertNotification(ctx context.Context, n feed.Notification) (feed.Notification, error) {
	if s.failNotifyWrite {
		return feed.Notification{}, errors.New("disk full")
	}
	return s.Store.InsertNotification(ctx, n)
}

func TestEngine_retry(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int
		wantErr   error
		wantCalls int
	}{
		{name: "NoConflict", conflicts: 0, wantCalls: 1},
		{name: "Recovers", conflicts: 2, wantCalls: 3},
		{name: "GivesUp", conflicts: 10, wantErr: feed.ErrStorageUnavailable, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			p := env.post(t, alice, "hello")

			fs := &flakyStore{Store: env.db, likeConflicts: tt.conflicts}
			env.engine.Store = fs

			_, liked, err := env.engine.ToggleLike(context.Background(), bob, p.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ToggleLike() error = %v, want %v", err, tt.wantErr)
			}
			if fs.likeCalls != tt.wantCalls {
				t.Errorf("Got %d store calls, want %d", fs.likeCalls, tt.wantCalls)
			}
			if tt.wantErr == nil && !liked {
				t.Error("Got liked false, want true")
			}
		})
	}
}

func TestEngine_partialFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.post(t, alice, "hello")
	env.engine.Store = &flakyStore{Store: env.db, failNotifyWrite: true}

	got, liked, err := env.engine.ToggleLike(ctx, bob, p.ID)
	if !errors.Is(err, feed.ErrNotificationFailed) {
		t.Fatalf("ToggleLike() error = %v, want ErrNotificationFailed", err)
	}
	if !liked || !got.LikedBy(bob.ID) {
		t.Errorf("Got liked %v likes %v, want the like applied", liked, got.Likes)
	}

	commented, err := env.engine.AddComment(ctx, bob, p.ID, "nice")
	if !errors.Is(err, feed.ErrNotificationFailed) {
		t.Fatalf("AddComment() error = %v, want ErrNotificationFailed", err)
	}
	if len(commented.Comments) != 1 {
		t.Errorf("Got %d comments, want the comment applied", len(commented.Comments))
	}

	following, err := env.engine.ToggleFollow(ctx, bob, alice.ID)
	if !errors.Is(err, feed.ErrNotificationFailed) {
		t.Fatalf("ToggleFollow() error = %v, want ErrNotificationFailed", err)
	}
	if !following {
		t.Error("Got following false, want the follow applied")
	}

	if nf := env.notifications(t, alice); len(nf.Notifications) != 0 || nf.UnreadCount != 0 {
		t.Errorf("Got %d notifications, %d unread, want none", len(nf.Notifications), nf.UnreadCount)
	}
}

func postIDs(posts []feed.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}
