package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"realtime-canvas/backend/access"
	"realtime-canvas/backend/database"
	"realtime-canvas/backend/middleware"
	"realtime-canvas/backend/models"
	"realtime-canvas/backend/utils"
	"realtime-canvas/backend/websocket"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testSecret = "handler-secret"

type memUsers struct {
	mu   sync.Mutex
	byID map[primitive.ObjectID]models.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[primitive.ObjectID]models.User)}
}

func (s *memUsers) find(match func(models.User) bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if match(u) {
			return &u, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *memUsers) FindUserByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.find(func(u models.User) bool { return u.ID == id })
}

func (s *memUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	email = database.NormalizeEmail(email)
	return s.find(func(u models.User) bool { return u.Email == email })
}

func (s *memUsers) FindByGoogleID(_ context.Context, googleID string) (*models.User, error) {
	return s.find(func(u models.User) bool { return u.GoogleID != "" && u.GoogleID == googleID })
}

func (s *memUsers) Create(ctx context.Context, user *models.User) error {
	user.Email = database.NormalizeEmail(user.Email)
	if _, err := s.FindByEmail(ctx, user.Email); err == nil {
		return database.ErrDuplicateKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user.ID = primitive.NewObjectID()
	user.CreatedAt = time.Now()
	s.byID[user.ID] = *user
	return nil
}

func (s *memUsers) LinkGoogle(_ context.Context, id primitive.ObjectID, googleID, avatar string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return database.ErrNotFound
	}
	u.GoogleID, u.Avatar = googleID, avatar
	s.byID[id] = u
	return nil
}

type memRooms struct {
	mu    sync.Mutex
	rooms map[primitive.ObjectID]models.Room
}

func newMemRooms() *memRooms {
	return &memRooms{rooms: make(map[primitive.ObjectID]models.Room)}
}

func (s *memRooms) get(id primitive.ObjectID) (*models.Room, error) {
	room, ok := s.rooms[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	room.Members = slices.Clone(room.Members)
	return &room, nil
}

func (s *memRooms) FindRoomByID(_ context.Context, id primitive.ObjectID) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *memRooms) Create(_ context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room.ID = primitive.NewObjectID()
	room.Members = []models.Member{}
	room.CreatedAt = time.Now()
	room.UpdatedAt = room.CreatedAt
	s.rooms[room.ID] = *room
	return nil
}

func (s *memRooms) ListForUser(_ context.Context, userID primitive.ObjectID) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Room
	for _, r := range s.rooms {
		if r.HasAccess(userID) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memRooms) Update(_ context.Context, id primitive.ObjectID, req models.UpdateRoomRequest) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if req.Name != nil {
		room.Name = *req.Name
	}
	if req.Description != nil {
		room.Description = *req.Description
	}
	if req.IsPrivate != nil {
		room.IsPrivate = *req.IsPrivate
	}
	room.UpdatedAt = time.Now()
	s.rooms[id] = room
	return s.get(id)
}

func (s *memRooms) Delete(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return database.ErrNotFound
	}
	delete(s.rooms, id)
	return nil
}

func (s *memRooms) AddMember(_ context.Context, roomID primitive.ObjectID, member models.Member) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, database.ErrNotFound
	}
	if room.HasAccess(member.User) {
		return nil, database.ErrMemberExists
	}
	room.Members = append(room.Members, member)
	s.rooms[roomID] = room
	return s.get(roomID)
}

func (s *memRooms) RemoveMember(_ context.Context, roomID, userID primitive.ObjectID) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok || !room.IsMember(userID) {
		return nil, database.ErrNotFound
	}
	room.Members = slices.DeleteFunc(slices.Clone(room.Members), func(m models.Member) bool { return m.User == userID })
	s.rooms[roomID] = room
	return s.get(roomID)
}

func (s *memRooms) UpdateMemberRole(_ context.Context, roomID, userID primitive.ObjectID, role models.Role) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok || !room.IsMember(userID) {
		return nil, database.ErrNotFound
	}
	members := slices.Clone(room.Members)
	for i := range members {
		if members[i].User == userID {
			members[i].Role = role
		}
	}
	room.Members = members
	s.rooms[roomID] = room
	return s.get(roomID)
}

type memOps struct {
	ops []models.Operation
	err error
}

func (s *memOps) Query(_ context.Context, roomID primitive.ObjectID, since *time.Time, limit int) ([]models.Operation, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := []models.Operation{}
	for _, op := range s.ops {
		if op.RoomID != roomID || (since != nil && !op.CreatedAt.After(*since)) {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, op)
	}
	return out, nil
}

func (s *memOps) All(_ context.Context, roomID primitive.ObjectID, fn func(*models.Operation) error) error {
	if s.err != nil {
		return s.err
	}
	for i := range s.ops {
		if s.ops[i].RoomID == roomID {
			if err := fn(&s.ops[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

type memSnapshots struct {
	snaps []models.Snapshot
}

func (s *memSnapshots) Create(_ context.Context, snap *models.Snapshot) error {
	version := 0
	for _, existing := range s.snaps {
		if existing.RoomID == snap.RoomID && existing.Version > version {
			version = existing.Version
		}
	}
	snap.ID = primitive.NewObjectID()
	snap.Version = version + 1
	snap.CreatedAt = time.Now()
	s.snaps = append(s.snaps, *snap)
	return nil
}

func (s *memSnapshots) Latest(_ context.Context, roomID primitive.ObjectID) (*models.Snapshot, error) {
	var latest *models.Snapshot
	for i := range s.snaps {
		if s.snaps[i].RoomID == roomID && (latest == nil || s.snaps[i].Version > latest.Version) {
			latest = &s.snaps[i]
		}
	}
	if latest == nil {
		return nil, database.ErrNotFound
	}
	return latest, nil
}

func (s *memSnapshots) FindByID(_ context.Context, roomID, id primitive.ObjectID) (*models.Snapshot, error) {
	for i := range s.snaps {
		if s.snaps[i].ID == id && s.snaps[i].RoomID == roomID {
			return &s.snaps[i], nil
		}
	}
	return nil, database.ErrNotFound
}

type recordingPurger struct {
	purged []primitive.ObjectID
}

func (p *recordingPurger) PurgeRoom(_ context.Context, roomID primitive.ObjectID) error {
	p.purged = append(p.purged, roomID)
	return nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeHub struct{ stats websocket.Stats }

func (h fakeHub) Stats() websocket.Stats { return h.stats }

// env is an API wired over in-memory stores.
type env struct {
	router    *mux.Router
	users     *memUsers
	rooms     *memRooms
	ops       *memOps
	snapshots *memSnapshots
	purger    *recordingPurger
	auth      *AuthHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		router:    mux.NewRouter(),
		users:     newMemUsers(),
		rooms:     newMemRooms(),
		ops:       &memOps{},
		snapshots: &memSnapshots{},
		purger:    &recordingPurger{},
	}
	e.auth = NewAuthHandler(e.users, testSecret, time.Hour)
	Register(e.router, Routes{
		Auth:    e.auth,
		Rooms:   NewRoomHandler(e.rooms, e.users, e.purger),
		Canvas:  NewCanvasHandler(access.NewGate(e.rooms), e.ops, e.snapshots),
		Health:  NewHealthHandler("test", fakePinger{}, fakeHub{}),
		Protect: middleware.JWTMiddleware(utils.NewTokenVerifier(testSecret)),
	})
	return e
}

// user creates an account and returns it with a bearer token.
func (e *env) user(t *testing.T, name string) (*models.User, string) {
	t.Helper()
	u := &models.User{Name: name, Email: name + "@example.com"}
	require.NoError(t, e.users.Create(context.Background(), u))
	token, err := utils.GenerateJWT(u.ID, u.Name, testSecret, time.Hour)
	require.NoError(t, err)
	return u, token
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}
