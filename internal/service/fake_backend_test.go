package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"herbit/internal/ecoenzim"
	"herbit/internal/model"
	"herbit/internal/repository"
)

var wib = time.FixedZone("WIB", 7*3600)

func at(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 0, 0, 0, wib)
}

// fakeBackend is an in-memory ecoenzim API.
type fakeBackend struct {
	mu       sync.Mutex
	projects []model.Project
	uploads  []model.Upload
	fail     error
	fetches  int
	nextID   int
}

func (f *fakeBackend) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

func (f *fakeBackend) ActiveProject(ctx context.Context, userID string) (*model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fail != nil {
		return nil, f.fail
	}
	for i := range f.projects {
		p := f.projects[i]
		if p.UserID == userID && p.Active() {
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) CreateProject(ctx context.Context, in model.NewProject) (*model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	start, end := in.StartDate, in.EndDate
	p := model.Project{
		ID:                 f.id("p"),
		UserID:             in.UserID,
		OrganicWasteWeight: in.OrganicWasteWeight,
		StartDate:          &start,
		EndDate:            &end,
		Status:             model.StatusOngoing,
	}
	f.projects = append(f.projects, p)
	return &p, nil
}

func (f *fakeBackend) DeleteProject(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.projects {
		if p.ID == id {
			f.projects = append(f.projects[:i], f.projects[i+1:]...)
			return nil
		}
	}
	return &ecoenzim.APIError{Endpoint: "projects.delete", Status: 404}
}

func (f *fakeBackend) ListUploads(ctx context.Context, projectID string) ([]model.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	var out []model.Upload
	for _, u := range f.uploads {
		if u.ProjectID == projectID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeBackend) CreateUpload(ctx context.Context, in model.Upload) (*model.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	in.ID = f.id("u")
	f.uploads = append(f.uploads, in)
	return &in, nil
}

func (f *fakeBackend) ClaimPoints(ctx context.Context, projectID string) (model.ClaimResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.projects {
		if f.projects[i].ID == projectID {
			f.projects[i].IsClaimed = true
			f.projects[i].Status = model.StatusCompleted
			return model.ClaimResult{Message: "ok", Points: 240}, nil
		}
	}
	return model.ClaimResult{}, &ecoenzim.APIError{Endpoint: "projects.claim", Status: 404}
}

func (f *fakeBackend) addProject(p model.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects = append(f.projects, p)
}

func (f *fakeBackend) addUploads(uploads ...model.Upload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, uploads...)
}

func (f *fakeBackend) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeBackend) uploadsOf(projectID string) []model.Upload {
	out, _ := f.ListUploads(context.Background(), projectID)
	return out
}

type harness struct {
	api       *fakeBackend
	db        *repository.SnapshotRepository
	users     *repository.UserRepository
	reminders *repository.ReminderRepository
	timeline  *TimelineService
	now       time.Time
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "herbit.db"), zap.NewNop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	h := &harness{
		api:       &fakeBackend{},
		db:        repository.NewSnapshotRepository(db),
		users:     repository.NewUserRepository(db),
		reminders: repository.NewReminderRepository(db),
		now:       now,
	}
	h.timeline = NewTimelineService(h.api, h.db, wib, zap.NewNop())
	h.timeline.SetClock(func() time.Time { return h.now })
	return h
}

func (h *harness) linkedUser(t *testing.T, herbitUserID string) *model.User {
	t.Helper()
	user, err := h.users.UpsertFromTelegram(context.Background(), 100, 100, "Sari", "", "sari")
	require.NoError(t, err)
	require.NoError(t, h.users.Link(context.Background(), user, herbitUserID, ""))
	return user
}

// ongoing seeds a project started at midnight of the given day.
func (h *harness) ongoing(userID string, start time.Time) model.Project {
	anchor := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, wib)
	end := anchor.AddDate(0, 0, 90)
	p := model.Project{ID: "p-" + userID, UserID: userID, StartDate: &anchor, EndDate: &end, Status: model.StatusOngoing}
	h.api.addProject(p)
	return p
}

func checkin(projectID string, when time.Time) model.Upload {
	return model.Upload{ProjectID: projectID, UploadedDate: when, PrePointsEarned: 1}
}

func milestone(projectID string, month int, when time.Time) model.Upload {
	m := month
	return model.Upload{ProjectID: projectID, UploadedDate: when, MonthNumber: &m, PhotoURL: "https://img.example/m.jpg", PrePointsEarned: 50}
}

// completeRun seeds 90 check-ins and all milestone photos.
func (h *harness) completeRun(p model.Project) {
	anchor := *p.StartDate
	for d := 0; d < 90; d++ {
		h.api.addUploads(checkin(p.ID, anchor.AddDate(0, 0, d).Add(9*time.Hour)))
	}
	for m := 1; m <= 3; m++ {
		h.api.addUploads(milestone(p.ID, m, anchor.AddDate(0, 0, m*30-1).Add(12*time.Hour)))
	}
}
